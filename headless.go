package webbridge

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	gohtml "golang.org/x/net/html"
)

// PageSourceFunc resolves a URL to the markup the headless engine loads for
// it.
type PageSourceFunc func(url string) (string, error)

// MapPageSource serves pages from an in-memory table.
func MapPageSource(pages map[string]string) PageSourceFunc {
	return func(u string) (string, error) {
		src, ok := pages[u]
		if !ok {
			return "", fmt.Errorf("no page for %s", u)
		}
		return src, nil
	}
}

// FilePageSource serves file:// URLs from under root. Paths are cleaned
// against the root so a page cannot escape it.
func FilePageSource(root string) PageSourceFunc {
	return func(raw string) (string, error) {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("parsing %s: %w", raw, err)
		}
		if u.Scheme != "file" {
			return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
		}
		p := filepath.Join(root, filepath.FromSlash(path.Clean("/"+u.Path)))
		b, err := os.ReadFile(p)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// HeadlessEngine runs pages in an embedded JavaScript VM with no rendering
// surface. Markup is tokenized for its title and inline scripts, the scripts
// run in document order in a fresh context per page, and the bridge natives
// are bound so pages reach native code the way they would in a real webview.
//
// Loads resolve synchronously on the caller, so like every Engine it must be
// driven from the bridge main context only. StopLoading is a no-op here:
// nothing is ever in flight between calls.
type HeadlessEngine struct {
	binding    EngineBinding
	log        *zap.Logger
	pageSource PageSourceFunc

	vm      scriptVM
	url     string
	title   string
	history []string
	visible bool
	paused  bool
}

var _ Engine = (*HeadlessEngine)(nil)

func NewHeadlessEngine(source PageSourceFunc) *HeadlessEngine {
	return &HeadlessEngine{
		pageSource: source,
		log:        logNamed("headless"),
	}
}

func (h *HeadlessEngine) Init(binding EngineBinding) error {
	if h.pageSource == nil {
		return fmt.Errorf("headless engine needs a page source")
	}
	h.binding = binding
	return nil
}

func (h *HeadlessEngine) LoadURL(target string, clearNavigationStack bool) {
	if clearNavigationStack {
		h.history = h.history[:0]
	}
	h.history = append(h.history, target)
	h.load(target)
}

func (h *HeadlessEngine) URL() string { return h.url }

// Title reports the text of the last loaded page's <title>, or "".
func (h *HeadlessEngine) Title() string { return h.title }

func (h *HeadlessEngine) StopLoading() {}

func (h *HeadlessEngine) CanGoBack() bool { return len(h.history) > 1 }

func (h *HeadlessEngine) GoBack() bool {
	if len(h.history) < 2 {
		return false
	}
	h.history = h.history[:len(h.history)-1]
	h.load(h.history[len(h.history)-1])
	return true
}

func (h *HeadlessEngine) ClearCache() {}

func (h *HeadlessEngine) ClearHistory() {
	if n := len(h.history); n > 1 {
		h.history = h.history[n-1:]
	}
}

func (h *HeadlessEngine) SetPaused(paused bool) { h.paused = paused }

func (h *HeadlessEngine) EvalJS(script string) error {
	if h.vm == nil {
		return fmt.Errorf("no page context")
	}
	if err := h.vm.Eval(script); err != nil {
		return err
	}
	h.vm.PumpMicrotasks()
	return nil
}

func (h *HeadlessEngine) Visible() bool           { return h.visible }
func (h *HeadlessEngine) SetVisible(visible bool) { h.visible = visible }

func (h *HeadlessEngine) Destroy() {
	if h.vm != nil {
		h.vm.Close()
		h.vm = nil
	}
	h.history = nil
}

// load tears down the previous page context and brings up target: bridge
// access is reset, lifecycle callbacks fire, the bootstrap runtime is
// injected, and the page's inline scripts run in document order. The blank
// sentinel loads without consulting the page source.
func (h *HeadlessEngine) load(target string) {
	if h.vm != nil {
		h.vm.Close()
		h.vm = nil
	}
	h.url = target
	h.title = ""
	h.paused = false

	h.binding.Exec.Reset()
	h.binding.Client.OnPageStarted(target)

	source := ""
	if target != blankURL {
		var err error
		source, err = h.pageSource(target)
		if err != nil {
			h.log.Warn("page source unavailable", zap.String("url", target), zap.Error(err))
			h.binding.Client.OnLoadError(LoadErrorHostLookup, err.Error(), target)
			return
		}
	}

	vm, err := newScriptVM()
	if err != nil {
		h.log.Error("page context unavailable", zap.Error(err))
		h.binding.Client.OnLoadError(LoadErrorConnect, err.Error(), target)
		return
	}
	h.vm = vm

	if err := h.bindNatives(); err != nil {
		h.log.Warn("binding bridge natives", zap.Error(err))
	}

	title, scripts := parsePage(source)
	h.title = title

	// A denied handshake throws out of the bootstrap; the page still loads,
	// it just has no bridge.
	if err := h.vm.Eval(BootstrapScript()); err != nil {
		h.log.Warn("bootstrap rejected", zap.String("url", target), zap.Error(err))
	}

	for _, script := range scripts {
		if err := h.vm.Eval(script); err != nil {
			h.log.Warn("page script error", zap.String("url", target), zap.Error(err))
		}
	}
	h.vm.PumpMicrotasks()

	h.binding.Client.OnPageFinished(target)
}

// bindNatives installs the globals the bootstrap runtime talks to. Each
// closes over the page URL current at bind time, so a stale page cannot
// handshake as its successor.
func (h *HeadlessEngine) bindNatives() error {
	gw := h.binding.Exec
	page := h.url

	if err := h.vm.Bind("__wb_handshake", func(mode int) (int, error) {
		secret, err := gw.Handshake(page, mode)
		return int(secret), err
	}); err != nil {
		return err
	}
	if err := h.vm.Bind("__wb_exec", func(secret int, service, action, callbackID, argsJSON string) (string, error) {
		return gw.Exec(int64(secret), service, action, callbackID, argsJSON)
	}); err != nil {
		return err
	}
	if err := h.vm.Bind("__wb_retrieve", func(secret int) (string, error) {
		return gw.RetrieveMessages(int64(secret))
	}); err != nil {
		return err
	}
	if err := h.vm.Bind("__wb_bridge_mode", func(secret, mode int) (string, error) {
		return "", gw.SetBridgeMode(int64(secret), mode)
	}); err != nil {
		return err
	}

	// Page-initiated navigation defers to the main loop so the current
	// script finishes before its context is torn down.
	return h.vm.Bind("__wb_navigate", func(target string) (string, error) {
		h.binding.Dispatch(func() {
			if h.binding.Client.OnNavigationAttempt(target) {
				return
			}
			h.LoadURL(target, false)
		})
		return "", nil
	})
}

// parsePage pulls the title text and the inline script bodies out of the
// markup, in document order. External scripts are skipped; a headless page
// has no loader to fetch them with.
func parsePage(source string) (title string, scripts []string) {
	tz := gohtml.NewTokenizer(strings.NewReader(source))
	for {
		tt := tz.Next()
		if tt == gohtml.ErrorToken {
			return title, scripts
		}
		if tt != gohtml.StartTagToken {
			continue
		}
		token := tz.Token()
		switch token.Data {
		case "script":
			if hasAttr(token.Attr, "src") {
				continue
			}
			if tz.Next() == gohtml.TextToken {
				if body := strings.TrimSpace(string(tz.Text())); body != "" {
					scripts = append(scripts, body)
				}
			}
		case "title":
			if tz.Next() == gohtml.TextToken {
				title = strings.TrimSpace(string(tz.Text()))
			}
		}
	}
}

func hasAttr(attrs []gohtml.Attribute, name string) bool {
	for _, a := range attrs {
		if a.Key == name {
			return true
		}
	}
	return false
}
