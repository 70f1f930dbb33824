package webbridge

// test_fakes_test.go provides in-memory fakes for Engine, Host, and the
// plugin capability interfaces, plus the session helpers the package tests
// share. No script VM or network involved; headless_test.go covers those.

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// fakeEngine — records every call the bridge makes.
// ---------------------------------------------------------------------------

type loadCall struct {
	URL   string
	Clear bool
}

type fakeEngine struct {
	mu        sync.Mutex
	binding   EngineBinding
	loads     []loadCall
	evals     []string
	paused    []bool
	stops     int
	cacheClr  int
	histClr   int
	destroyed bool
	visible   bool
	canGoBack bool
	backs     int

	initErr error
	evalErr error
}

var _ Engine = (*fakeEngine)(nil)

func newFakeEngine() *fakeEngine {
	return &fakeEngine{}
}

func (e *fakeEngine) Init(binding EngineBinding) error {
	if e.initErr != nil {
		return e.initErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.binding = binding
	return nil
}

func (e *fakeEngine) LoadURL(url string, clear bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads = append(e.loads, loadCall{URL: url, Clear: clear})
}

func (e *fakeEngine) URL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.loads) == 0 {
		return ""
	}
	return e.loads[len(e.loads)-1].URL
}

func (e *fakeEngine) StopLoading() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
}

func (e *fakeEngine) CanGoBack() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canGoBack
}

func (e *fakeEngine) GoBack() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.canGoBack {
		return false
	}
	e.backs++
	return true
}

func (e *fakeEngine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cacheClr++
}

func (e *fakeEngine) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.histClr++
}

func (e *fakeEngine) SetPaused(paused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = append(e.paused, paused)
}

func (e *fakeEngine) EvalJS(script string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evalErr != nil {
		return e.evalErr
	}
	e.evals = append(e.evals, script)
	return nil
}

func (e *fakeEngine) Visible() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.visible
}

func (e *fakeEngine) SetVisible(visible bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.visible = visible
}

func (e *fakeEngine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroyed = true
}

func (e *fakeEngine) loadedURLs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	urls := make([]string, len(e.loads))
	for i, l := range e.loads {
		urls[i] = l.URL
	}
	return urls
}

func (e *fakeEngine) evalText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return strings.Join(e.evals, "\n")
}

func (e *fakeEngine) stopCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stops
}

func (e *fakeEngine) setCanGoBack(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.canGoBack = v
}

func (e *fakeEngine) backCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backs
}

func (e *fakeEngine) isDestroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

// ---------------------------------------------------------------------------
// recordingHost — captures external opens and fall-through bridge messages.
// ---------------------------------------------------------------------------

type openCall struct {
	URL  string
	Mime string
}

type hostMessage struct {
	Name    string
	Payload any
}

type recordingHost struct {
	mu       sync.Mutex
	opens    []openCall
	messages []hostMessage
	openErr  error
}

var _ Host = (*recordingHost)(nil)

func newRecordingHost() *recordingHost {
	return &recordingHost{}
}

func (h *recordingHost) OpenExternal(url, mimeType string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opens = append(h.opens, openCall{URL: url, Mime: mimeType})
	return h.openErr
}

func (h *recordingHost) OnMessage(name string, payload any) any {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, hostMessage{Name: name, Payload: payload})
	return nil
}

func (h *recordingHost) openCalls() []openCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]openCall(nil), h.opens...)
}

func (h *recordingHost) messageNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, len(h.messages))
	for i, m := range h.messages {
		names[i] = m.Name
	}
	return names
}

func (h *recordingHost) message(name string) (hostMessage, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.messages {
		if m.Name == name {
			return m, true
		}
	}
	return hostMessage{}, false
}

func (h *recordingHost) messageCount(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.messages {
		if m.Name == name {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// recordingPlugin — one plugin wearing every capability, behavior injectable.
// ---------------------------------------------------------------------------

type recordingPlugin struct {
	mu        sync.Mutex
	inits     int
	resets    int
	lifecycle []string
	intents   []string
	seen      []hostMessage

	overrideFn func(url string) bool
	navFn      func(url string) PolicyVote
	extFn      func(url string) PolicyVote
	messageFn  func(name string, payload any) any
	execFn     func(action string, args json.RawMessage, cb *CallbackContext) (bool, error)
}

var _ Plugin = (*recordingPlugin)(nil)
var _ LifecycleListener = (*recordingPlugin)(nil)
var _ IntentListener = (*recordingPlugin)(nil)
var _ ResetListener = (*recordingPlugin)(nil)
var _ MessageHandler = (*recordingPlugin)(nil)
var _ URLOverrider = (*recordingPlugin)(nil)
var _ NavigationVoter = (*recordingPlugin)(nil)
var _ ExternalURLVoter = (*recordingPlugin)(nil)
var _ Executor = (*recordingPlugin)(nil)

func (p *recordingPlugin) Initialize(env *PluginEnv) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inits++
	return nil
}

func (p *recordingPlugin) OnReset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
}

func (p *recordingPlugin) OnPause(keepRunning bool) { p.record("pause") }
func (p *recordingPlugin) OnResume(keepRunning bool) {
	p.record("resume")
}
func (p *recordingPlugin) OnStart()   { p.record("start") }
func (p *recordingPlugin) OnStop()    { p.record("stop") }
func (p *recordingPlugin) OnDestroy() { p.record("destroy") }

func (p *recordingPlugin) OnNewIntent(uri string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents = append(p.intents, uri)
}

func (p *recordingPlugin) record(event string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lifecycle = append(p.lifecycle, event)
}

func (p *recordingPlugin) OnMessage(name string, payload any) any {
	p.mu.Lock()
	p.seen = append(p.seen, hostMessage{Name: name, Payload: payload})
	fn := p.messageFn
	p.mu.Unlock()
	if fn != nil {
		return fn(name, payload)
	}
	return nil
}

func (p *recordingPlugin) OverrideURLLoading(url string) bool {
	if p.overrideFn != nil {
		return p.overrideFn(url)
	}
	return false
}

func (p *recordingPlugin) AllowNavigation(url string) PolicyVote {
	if p.navFn != nil {
		return p.navFn(url)
	}
	return VoteAbstain
}

func (p *recordingPlugin) AllowExternalURL(url string) PolicyVote {
	if p.extFn != nil {
		return p.extFn(url)
	}
	return VoteAbstain
}

func (p *recordingPlugin) Exec(action string, args json.RawMessage, cb *CallbackContext) (bool, error) {
	if p.execFn != nil {
		return p.execFn(action, args, cb)
	}
	return false, nil
}

func (p *recordingPlugin) lifecycleEvents() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lifecycle...)
}

func (p *recordingPlugin) resetCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

func (p *recordingPlugin) initCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inits
}

// ---------------------------------------------------------------------------
// Session helpers
// ---------------------------------------------------------------------------

// newTestSession builds an initialized session around a fake engine and a
// recording host. The session is torn down with the test.
func newTestSession(t *testing.T, cfg *Config, plugins ...PluginEntry) (*Session, *fakeEngine, *recordingHost) {
	t.Helper()
	engine := newFakeEngine()
	host := newRecordingHost()
	s := New(engine)
	if err := s.Init(host, cfg, plugins...); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(s.HandleDestroy)
	return s, engine, host
}

// drain waits until work posted on the session's main context has run,
// including work that work itself posted (queue flushes rescheduling).
func drain(s *Session) {
	for i := 0; i < 6; i++ {
		s.looper.sync()
	}
}

// onMain runs fn on the session's main context and waits for it, for tests
// that stand in for an engine invoking main-context-only callbacks.
func onMain(s *Session, fn func()) {
	done := make(chan struct{})
	s.looper.Post(func() {
		defer close(done)
		fn()
	})
	<-done
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// allowAllConfig admits every URL on both allow-lists.
func allowAllConfig() *Config {
	cfg := DefaultConfig()
	cfg.AllowNavigation = []string{"*"}
	cfg.AllowIntents = []string{"*"}
	return cfg
}
