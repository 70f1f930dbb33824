package webbridge

import (
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Plugin is the minimal contract every bridge plugin satisfies. Everything
// else is an optional capability interface discovered per dispatch.
type Plugin interface {
	// Initialize is called when the plugin is bound to a session, before any
	// other hook, and again each time the session recreates its plugin set.
	Initialize(env *PluginEnv) error
}

// PluginEnv hands a plugin its session-scoped collaborators.
type PluginEnv struct {
	Session *Session
	Prefs   *Preferences
	Log     *zap.Logger
}

// Executor handles script-originated exec calls addressed to the plugin's
// service name. handled=false reports an unrecognized action; a non-nil
// error becomes an error result on the callback.
type Executor interface {
	Exec(action string, args json.RawMessage, cb *CallbackContext) (handled bool, err error)
}

// LifecycleListener receives host lifecycle transitions.
type LifecycleListener interface {
	OnPause(keepRunning bool)
	OnResume(keepRunning bool)
	OnStart()
	OnStop()
	OnDestroy()
}

// IntentListener is told about new host intents addressed to the view.
type IntentListener interface {
	OnNewIntent(uri string)
}

// ResetListener is told when the page context resets at navigation start.
// Per-page hooks (key claims, message channels) must be re-established.
type ResetListener interface {
	OnReset()
}

// MessageHandler observes named bridge events. A non-nil return value
// consumes the message and becomes the caller's result.
type MessageHandler interface {
	OnMessage(name string, payload any) any
}

// URLOverrider lets a plugin claim a navigation attempt outright.
type URLOverrider interface {
	OverrideURLLoading(url string) bool
}

// NavigationVoter votes on loading a URL inside the embedded view.
type NavigationVoter interface {
	AllowNavigation(url string) PolicyVote
}

// ExternalURLVoter votes on delegating a URL to the host's external opener.
type ExternalURLVoter interface {
	AllowExternalURL(url string) PolicyVote
}

// PolicyVote is a plugin's answer to a policy question. The first non-abstain
// vote in registration order decides; abstaining defers to the remaining
// plugins and ultimately to the built-in default.
type PolicyVote int

const (
	VoteAbstain PolicyVote = iota
	VoteAllow
	VoteDeny
)

// Host is the application shell the bridge escalates to: opening URLs
// outside the view and observing bridge messages no plugin consumed.
type Host interface {
	// OpenExternal hands a URL to the platform's external opener. mimeType
	// is non-empty only for file-scheme URLs.
	OpenExternal(url, mimeType string) error

	// OnMessage receives named bridge events after every plugin passed on
	// them. The "exit" message signals session teardown.
	OnMessage(name string, payload any) any
}

// PluginEntry declares one plugin service for Session.Init. Either Plugin or
// Factory must be set; Factory-backed entries are rebuilt whenever the
// session recreates plugins, value-backed entries are re-initialized.
type PluginEntry struct {
	Service string
	Plugin  Plugin
	Factory func() Plugin
	// Onload instantiates the plugin during init instead of on first use.
	Onload bool
}

type pluginEntry struct {
	service string
	factory func() Plugin
	plugin  Plugin
	onload  bool
}

// execWarnThreshold flags exec handlers that stall the main context.
const execWarnThreshold = 16 * time.Millisecond

// PluginManager owns the registered plugin set, fans lifecycle and
// navigation callbacks out to it, and answers the bridge's policy questions.
// Dispatch happens on the bridge main context; registration happens during
// session setup.
type PluginManager struct {
	session *Session
	host    Host
	prefs   *Preferences
	entries map[string]*pluginEntry
	order   []string
	log     *zap.Logger
}

func newPluginManager(s *Session, host Host, prefs *Preferences) *PluginManager {
	return &PluginManager{
		session: s,
		host:    host,
		prefs:   prefs,
		entries: make(map[string]*pluginEntry),
		log:     logNamed("plugins"),
	}
}

// RegisterFactory declares a service built on demand. Re-registering a
// service replaces it.
func (pm *PluginManager) RegisterFactory(service string, factory func() Plugin, onload bool) {
	if _, exists := pm.entries[service]; !exists {
		pm.order = append(pm.order, service)
	}
	pm.entries[service] = &pluginEntry{service: service, factory: factory, onload: onload}
}

// Register declares a service backed by an existing plugin value.
func (pm *PluginManager) Register(service string, p Plugin) {
	pm.RegisterFactory(service, func() Plugin { return p }, false)
}

// Init builds the plugin set: existing instances are dropped, onload entries
// instantiate immediately, the rest wait for first use. Called once from
// Session.Init and again on plugin recreation.
func (pm *PluginManager) Init() {
	pm.log.Debug("init")
	for _, name := range pm.order {
		pm.entries[name].plugin = nil
	}
	for _, name := range pm.order {
		if pm.entries[name].onload {
			pm.Get(name)
		}
	}
}

// Get returns the named plugin, instantiating and initializing it on first
// use. Returns nil for unknown services and for plugins whose Initialize
// failed (the failure is logged; the next Get retries).
func (pm *PluginManager) Get(service string) Plugin {
	entry, ok := pm.entries[service]
	if !ok {
		return nil
	}
	if entry.plugin != nil {
		return entry.plugin
	}
	p := entry.factory()
	if p == nil {
		pm.log.Error("plugin factory returned nil", zap.String("service", service))
		return nil
	}
	env := &PluginEnv{
		Session: pm.session,
		Prefs:   pm.prefs,
		Log:     logNamed("plugin." + service),
	}
	if err := p.Initialize(env); err != nil {
		pm.log.Error("plugin initialize failed", zap.String("service", service), zap.Error(err))
		return nil
	}
	entry.plugin = p
	return p
}

// instantiated returns the built plugins in registration order. Lifecycle
// and policy fan-out only reaches plugins that exist.
func (pm *PluginManager) instantiated() []Plugin {
	out := make([]Plugin, 0, len(pm.order))
	for _, name := range pm.order {
		if p := pm.entries[name].plugin; p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (pm *PluginManager) OnPause(keepRunning bool) {
	for _, p := range pm.instantiated() {
		if l, ok := p.(LifecycleListener); ok {
			l.OnPause(keepRunning)
		}
	}
}

func (pm *PluginManager) OnResume(keepRunning bool) {
	for _, p := range pm.instantiated() {
		if l, ok := p.(LifecycleListener); ok {
			l.OnResume(keepRunning)
		}
	}
}

func (pm *PluginManager) OnStart() {
	for _, p := range pm.instantiated() {
		if l, ok := p.(LifecycleListener); ok {
			l.OnStart()
		}
	}
}

func (pm *PluginManager) OnStop() {
	for _, p := range pm.instantiated() {
		if l, ok := p.(LifecycleListener); ok {
			l.OnStop()
		}
	}
}

func (pm *PluginManager) OnDestroy() {
	for _, p := range pm.instantiated() {
		if l, ok := p.(LifecycleListener); ok {
			l.OnDestroy()
		}
	}
}

func (pm *PluginManager) OnNewIntent(uri string) {
	for _, p := range pm.instantiated() {
		if l, ok := p.(IntentListener); ok {
			l.OnNewIntent(uri)
		}
	}
}

// OnReset tells plugins the page context is gone; per-page hooks must be
// re-established.
func (pm *PluginManager) OnReset() {
	for _, p := range pm.instantiated() {
		if l, ok := p.(ResetListener); ok {
			l.OnReset()
		}
	}
}

// PostMessage offers a named event to each plugin in order; the first
// non-nil return consumes it. Unconsumed messages fall through to the host.
func (pm *PluginManager) PostMessage(name string, payload any) any {
	for _, p := range pm.instantiated() {
		if h, ok := p.(MessageHandler); ok {
			if res := h.OnMessage(name, payload); res != nil {
				return res
			}
		}
	}
	if pm.host != nil {
		return pm.host.OnMessage(name, payload)
	}
	return nil
}

// OverrideURLLoading asks whether any plugin claims the navigation outright.
func (pm *PluginManager) OverrideURLLoading(url string) bool {
	for _, p := range pm.instantiated() {
		if o, ok := p.(URLOverrider); ok && o.OverrideURLLoading(url) {
			return true
		}
	}
	return false
}

// ShouldAllowNavigation polls the voters; without a vote only local content
// (file scheme and the blank sentinel) may load in the view.
func (pm *PluginManager) ShouldAllowNavigation(url string) bool {
	for _, p := range pm.instantiated() {
		if v, ok := p.(NavigationVoter); ok {
			switch v.AllowNavigation(url) {
			case VoteAllow:
				return true
			case VoteDeny:
				return false
			}
		}
	}
	return strings.HasPrefix(url, "file://") || strings.HasPrefix(url, "about:blank")
}

// ShouldOpenExternalURL polls the voters; the default answer is no, nothing
// leaves the view without an explicit allow.
func (pm *PluginManager) ShouldOpenExternalURL(url string) bool {
	for _, p := range pm.instantiated() {
		if v, ok := p.(ExternalURLVoter); ok {
			switch v.AllowExternalURL(url) {
			case VoteAllow:
				return true
			case VoteDeny:
				return false
			}
		}
	}
	return false
}

// Exec routes a script-originated call to the named service. Failures never
// propagate to the script as anything but an error result on the callback.
func (pm *PluginManager) Exec(service, action, callbackID string, args json.RawMessage) {
	cb := newCallbackContext(callbackID, pm.session)
	p := pm.Get(service)
	if p == nil {
		cb.Send(NewStringResult(StatusServiceNotFound, "Service not found: "+service))
		return
	}
	ex, ok := p.(Executor)
	if !ok {
		cb.Send(NewStringResult(StatusServiceNotFound, "Service has no exec surface: "+service))
		return
	}
	start := time.Now()
	handled, err := ex.Exec(action, args, cb)
	if elapsed := time.Since(start); elapsed > execWarnThreshold {
		pm.log.Warn("exec stalled the main context",
			zap.String("service", service), zap.String("action", action), zap.Duration("took", elapsed))
	}
	if err != nil {
		pm.log.Error("exec failed",
			zap.String("service", service), zap.String("action", action), zap.Error(err))
		if !cb.Finished() {
			cb.Send(NewStringResult(StatusError, err.Error()))
		}
		return
	}
	if !handled {
		cb.Send(NewStringResult(StatusInvalidAction, "Invalid action: "+action))
	}
}
