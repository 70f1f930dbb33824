package webbridge

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrAlreadyInitialized reports a second Init call on a session.
var ErrAlreadyInitialized = errors.New("webbridge: session already initialized")

// Queue mode indexes registered by Init, in registration order. The script
// side selects one through the exec gateway.
const (
	QueueModeNoOp = 0
	QueueModeEval = 1
)

// blankURL is the sentinel page: loading it bypasses navigation policy and
// the watchdog, and finishing it signals session teardown to plugins.
const blankURL = "about:blank"

// scriptURLPrefix marks script-evaluation pseudo-navigations, which bypass
// policy and the watchdog the same way.
const scriptURLPrefix = "javascript:"

// Session is the bridge facade for one embedded view: the lifecycle state
// machine, the navigation entry points, message transport, key claiming, and
// the overlay slot. Construct with New, wire with Init. Public methods are
// safe from any goroutine; engine and view state is only ever touched on the
// session's main context.
type Session struct {
	engine  Engine
	host    Host
	pm      *PluginManager
	queue   *MessageQueue
	prefs   *Preferences
	looper  *looper
	client  *engineClient
	gateway *ExecGateway
	wd      *watchdog
	log     *zap.Logger

	stateMu     sync.Mutex
	initialized bool
	destroyed   bool

	keysMu    sync.Mutex
	boundKeys map[KeyCode]bool

	overlayMu     sync.Mutex
	overlay       OverlayView
	overlayHidden func()

	// main-context state
	loadedURL     string
	hasPausedEver bool
	appPlugin     *CoreAppPlugin
	startURL      string
}

// New creates a session around an engine. The session is inert until Init.
func New(engine Engine) *Session {
	return &Session{
		engine:    engine,
		boundKeys: make(map[KeyCode]bool),
		log:       logNamed("session"),
	}
}

// Init wires the session: host surface, configuration, and plugin services.
// Exactly one Init call succeeds per session; a second returns
// ErrAlreadyInitialized. The built-in core and allow-list plugins are always
// registered; entries with the same service name replace them.
func (s *Session) Init(host Host, cfg *Config, plugins ...PluginEntry) error {
	s.stateMu.Lock()
	if s.initialized {
		s.stateMu.Unlock()
		return ErrAlreadyInitialized
	}
	s.initialized = true
	s.stateMu.Unlock()

	if cfg == nil {
		cfg = DefaultConfig()
	}
	s.host = host
	s.prefs = cfg.preferences()
	s.startURL = cfg.ContentSrc
	s.looper = newLooper()
	s.queue = NewMessageQueue(s.looper.Post)
	s.queue.RegisterMode(NoOpBridgeMode{})
	s.queue.RegisterMode(NewEvalBridgeMode(s.engine))
	s.pm = newPluginManager(s, host, s.prefs)
	s.gateway = newExecGateway(s.pm, s.queue)
	s.wd = newWatchdog(s.looper, func() time.Duration {
		return s.prefs.Millis("LoadUrlTimeoutValue", defaultLoadTimeoutMS)
	}, s.loadExpired)
	s.client = &engineClient{s: s, log: logNamed("client")}

	s.pm.RegisterFactory(CoreBridgeService, func() Plugin { return newCoreAppPlugin() }, true)
	s.pm.RegisterFactory(AllowListService, func() Plugin { return NewAllowListPlugin(cfg) }, true)
	for _, e := range plugins {
		switch {
		case e.Factory != nil:
			s.pm.RegisterFactory(e.Service, e.Factory, e.Onload)
		case e.Plugin != nil:
			p := e.Plugin
			s.pm.RegisterFactory(e.Service, func() Plugin { return p }, e.Onload)
		default:
			s.log.Warn("plugin entry without plugin or factory", zap.String("service", e.Service))
		}
	}
	for _, spec := range cfg.Plugins {
		if entry, ok := s.pm.entries[spec.Service]; ok {
			entry.onload = spec.Onload
		} else {
			s.log.Warn("configured plugin has no registration", zap.String("service", spec.Service))
		}
	}

	err := s.engine.Init(EngineBinding{
		Client:   s.client,
		Queue:    s.queue,
		Exec:     s.gateway,
		Dispatch: s.looper.Post,
	})
	if err != nil {
		s.looper.Close()
		s.stateMu.Lock()
		s.initialized = false
		s.stateMu.Unlock()
		return fmt.Errorf("engine init: %w", err)
	}
	s.pm.Init()
	s.log.Debug("session initialized", zap.String("start", s.startURL))
	return nil
}

// IsInitialized reports whether the session is between Init and destroy.
func (s *Session) IsInitialized() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.initialized && !s.destroyed
}

// ready gates non-lifecycle operations: misuse outside the live window is
// logged and ignored.
func (s *Session) ready(op string) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if !s.initialized || s.destroyed {
		s.log.Error("operation outside init/destroy window", zap.String("op", op))
		return false
	}
	return true
}

// lifecycleReady gates lifecycle forwarding, which silently no-ops outside
// the live window.
func (s *Session) lifecycleReady() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.initialized && !s.destroyed
}

// Engine returns the bound engine.
func (s *Session) Engine() Engine { return s.engine }

// PluginManager returns the session's plugin registry, nil before Init.
func (s *Session) PluginManager() *PluginManager { return s.pm }

// Preferences returns the runtime settings, nil before Init.
func (s *Session) Preferences() *Preferences { return s.prefs }

// Queue returns the native-to-script message queue, nil before Init.
func (s *Session) Queue() *MessageQueue { return s.queue }

// ExecGateway returns the script-to-native entry, nil before Init.
func (s *Session) ExecGateway() *ExecGateway { return s.gateway }

// LoadURL loads url with plugin recreation, through the navigation policy
// and timeout machinery.
func (s *Session) LoadURL(url string) {
	s.LoadURLInto(url, true)
}

// LoadStartURL loads the configured start page.
func (s *Session) LoadStartURL() {
	s.LoadURL(s.startURL)
}

// LoadURLInto loads url. The blank sentinel and script-evaluation URLs go
// straight to the engine; everything else recreates plugins when asked (or
// when nothing was loaded yet) and arms the load watchdog. The engine is
// only ever driven from the session's main context.
func (s *Session) LoadURLInto(url string, recreatePlugins bool) {
	if !s.ready("loadUrl") {
		return
	}
	if url == blankURL || strings.HasPrefix(url, scriptURLPrefix) {
		s.looper.Post(func() { s.engine.LoadURL(url, false) })
		return
	}
	s.looper.Post(func() { s.loadOnMain(url, recreatePlugins) })
}

// loadOnMain is the policy-and-watchdog load path. Main context only.
func (s *Session) loadOnMain(url string, recreatePlugins bool) {
	s.log.Debug("loadUrl", zap.String("url", url))
	recreate := recreatePlugins || s.loadedURL == ""
	if recreate {
		// Plugins only actually rebuild when a page already ran; the first
		// load uses the set Init built.
		if s.loadedURL != "" {
			s.appPlugin = nil
			s.pm.Init()
		}
		s.loadedURL = url
	}
	s.wd.arm(url)
	s.engine.LoadURL(url, recreate)
}

// loadExpired is the watchdog's expiry action: stop whatever is in flight
// and report the failure to plugins. Main context only.
func (s *Session) loadExpired(url string) {
	s.engine.StopLoading()
	s.pm.PostMessage("onReceivedError", &LoadError{
		ErrorCode:   LoadErrorConnect,
		Description: connectionFailureText,
		URL:         url,
	})
}

// StopLoading invalidates every outstanding load deadline. It does not halt
// the engine; pair it with the engine's own stop when needed.
func (s *Session) StopLoading() {
	if !s.ready("stopLoading") {
		return
	}
	s.wd.invalidate()
}

// ShowWebPage routes a page request the way plugins expect: an in-view load
// re-checks the navigation allow-list, an external open requires the intent
// allow-list and picks a MIME type only for file URLs. Opener refusals are
// logged, never propagated.
func (s *Session) ShowWebPage(url string, openExternal, clearHistory bool) {
	if !s.ready("showWebPage") {
		return
	}
	s.log.Debug("showWebPage",
		zap.String("url", url), zap.Bool("external", openExternal), zap.Bool("clearHistory", clearHistory))
	s.looper.Post(func() {
		if clearHistory {
			s.engine.ClearHistory()
		}
		if !openExternal {
			if s.pm.ShouldAllowNavigation(url) {
				s.loadOnMain(url, true)
				return
			}
			s.log.Warn("refusing in-view load, url not in the navigation allow-list", zap.String("url", url))
		}
		if !s.pm.ShouldOpenExternalURL(url) {
			s.log.Warn("refusing external open, url not in the intent allow-list", zap.String("url", url))
			return
		}
		mime := ""
		if strings.HasPrefix(url, "file:") {
			mime = MimeTypeForURL(url)
		}
		if s.host == nil {
			s.log.Warn("no host to open external url", zap.String("url", url))
			return
		}
		if err := s.host.OpenExternal(url, mime); err != nil {
			s.log.Error("external open failed", zap.String("url", url), zap.Error(err))
		}
	})
}

// HandlePause forwards a host pause. keepRunning=false also suspends the
// page's timers until resume.
func (s *Session) HandlePause(keepRunning bool) {
	if !s.lifecycleReady() {
		return
	}
	s.looper.Post(func() {
		s.hasPausedEver = true
		s.pm.OnPause(keepRunning)
		s.sendJavascriptEvent("pause")
		if !keepRunning {
			s.engine.SetPaused(true)
		}
	})
}

// HandleResume forwards a host resume. The "resume" script event only fires
// if a pause was observed earlier in this session's lifetime, so a launch
// that begins with a resume stays quiet.
func (s *Session) HandleResume(keepRunning bool) {
	if !s.lifecycleReady() {
		return
	}
	s.looper.Post(func() {
		s.engine.SetPaused(false)
		s.pm.OnResume(keepRunning)
		if s.hasPausedEver {
			s.sendJavascriptEvent("resume")
		}
	})
}

func (s *Session) HandleStart() {
	if !s.lifecycleReady() {
		return
	}
	s.looper.Post(s.pm.OnStart)
}

func (s *Session) HandleStop() {
	if !s.lifecycleReady() {
		return
	}
	s.looper.Post(s.pm.OnStop)
}

// HandleNewIntent forwards a host intent URI to interested plugins.
func (s *Session) HandleNewIntent(uri string) {
	if !s.lifecycleReady() {
		return
	}
	s.looper.Post(func() { s.pm.OnNewIntent(uri) })
}

// HandleDestroy tears the session down: outstanding load deadlines are
// invalidated, plugins are notified, the blank sentinel is loaded so the
// page observes the exit signal, the engine is released, and any overlay is
// dismissed. Blocks until teardown completes; afterwards all operations
// no-op.
func (s *Session) HandleDestroy() {
	if !s.lifecycleReady() {
		return
	}
	done := make(chan struct{})
	s.looper.Post(func() {
		defer close(done)
		s.wd.invalidate()
		s.pm.OnDestroy()
		s.engine.LoadURL(blankURL, false)
		s.engine.Destroy()
		s.dismissOverlay()
	})
	<-done

	s.stateMu.Lock()
	s.destroyed = true
	s.stateMu.Unlock()
	s.looper.Close()
	s.log.Debug("session destroyed")
}

// SetButtonPlumbedToJS claims or releases a hardware key for script-side
// handling. Only the volume keys, back, and menu may be claimed; anything
// else returns ErrUnsupportedKeyCode with the state unchanged. Claimed keys
// are intercepted on both press and release.
func (s *Session) SetButtonPlumbedToJS(code KeyCode, claim bool) error {
	if !claimableKeys[code] {
		return fmt.Errorf("%w: %s", ErrUnsupportedKeyCode, code)
	}
	if !s.ready("setButtonPlumbedToJs") {
		return nil
	}
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	if claim {
		s.boundKeys[code] = true
	} else {
		delete(s.boundKeys, code)
	}
	return nil
}

// IsButtonPlumbedToJS reports whether scripts claimed the key.
func (s *Session) IsButtonPlumbedToJS(code KeyCode) bool {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	return s.boundKeys[code]
}

// clearBoundKeys drops every claim; pages re-claim after each navigation.
func (s *Session) clearBoundKeys() {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	clear(s.boundKeys)
}

// SendScript queues a raw statement for the page.
func (s *Session) SendScript(statement string) {
	if !s.ready("sendScript") {
		return
	}
	s.queue.EnqueueScript(statement)
}

// SendPluginResult queues a structured result for a script callback.
func (s *Session) SendPluginResult(r *Result, callbackID string) {
	if !s.ready("sendPluginResult") {
		return
	}
	s.queue.EnqueueResult(r, callbackID)
}

// PostMessage offers a named event to the plugin set, then the host. Returns
// the first non-nil answer.
func (s *Session) PostMessage(name string, payload any) any {
	if !s.ready("postMessage") {
		return nil
	}
	return s.pm.PostMessage(name, payload)
}

// ClearCache drops the engine's page caches.
func (s *Session) ClearCache() {
	if !s.ready("clearCache") {
		return
	}
	s.looper.Post(s.engine.ClearCache)
}

// ClearHistory drops the engine's back/forward list.
func (s *Session) ClearHistory() {
	if !s.ready("clearHistory") {
		return
	}
	s.looper.Post(s.engine.ClearHistory)
}

// BackHistory navigates one step back when history allows.
func (s *Session) BackHistory() {
	if !s.ready("backHistory") {
		return
	}
	s.looper.Post(func() {
		if s.engine.CanGoBack() {
			s.engine.GoBack()
		}
	})
}

// sendJavascriptEvent fires a named document event through the core plugin.
// Main context only.
func (s *Session) sendJavascriptEvent(event string) {
	if s.appPlugin == nil {
		p, _ := s.pm.Get(CoreBridgeService).(*CoreAppPlugin)
		if p == nil {
			s.log.Warn("unable to fire script event without the core plugin", zap.String("event", event))
			return
		}
		s.appPlugin = p
	}
	s.appPlugin.FireScriptEvent(event)
}
