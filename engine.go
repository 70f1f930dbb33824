package webbridge

// Engine is the embedded browser surface as the bridge sees it: opaque
// beyond navigation, history, script evaluation, and teardown. The bridge
// drives an Engine only from its main context, and an Engine must invoke its
// bound EngineClient from that same context (use EngineBinding.Dispatch when
// events originate elsewhere).
type Engine interface {
	// Init binds the engine to a session. Called once, before any other
	// method, with the collaborators the engine may call back into.
	Init(binding EngineBinding) error

	// LoadURL starts loading url. clearNavigationStack drops the back/forward
	// history first.
	LoadURL(url string, clearNavigationStack bool)

	// URL reports the currently loaded URL, or "" before the first load.
	URL() string

	// StopLoading aborts any in-flight load. A no-op when idle.
	StopLoading()

	CanGoBack() bool

	// GoBack navigates one step back in history, reporting whether it did.
	GoBack() bool

	ClearCache()
	ClearHistory()

	// SetPaused suspends or resumes script timers and media in the page.
	SetPaused(paused bool)

	// EvalJS evaluates a script statement in the page context. Used by the
	// eval bridge mode to deliver queued messages.
	EvalJS(script string) error

	// Visible reports whether the host has revealed the view, SetVisible
	// records a change. The bridge reads this to decide whether a loading
	// indicator may still be up after page finish.
	Visible() bool
	SetVisible(visible bool)

	// Destroy releases the engine. No methods are called afterwards.
	Destroy()
}

// EngineClient is the surface a session exposes to its engine. Every method
// must be invoked on the bridge main context.
type EngineClient interface {
	// OnNavigationAttempt decides a pending navigation before the engine
	// commits to it. Returning true means the bridge handled (or blocked)
	// the attempt and the engine must not load the URL itself.
	OnNavigationAttempt(url string) bool

	// OnPageStarted signals that a top-level load began.
	OnPageStarted(url string)

	// OnPageFinished signals that the load completed.
	OnPageFinished(url string)

	// OnLoadError reports a failed load. code is one of the LoadError*
	// values, description is human-readable.
	OnLoadError(code int, description, failingURL string)

	// OnDispatchKey offers a hardware key event to the bridge before the
	// engine applies its default behavior.
	OnDispatchKey(ev KeyEvent) KeyVerdict
}

// EngineBinding hands an engine the session collaborators it may use.
type EngineBinding struct {
	// Client receives page lifecycle, navigation, and key callbacks.
	Client EngineClient

	// Queue is the native-to-script message queue, for engines that reset
	// or poll it around page transitions.
	Queue *MessageQueue

	// Exec is the script-to-native gateway, for engines that host a script
	// context of their own.
	Exec *ExecGateway

	// Dispatch posts fn onto the bridge main context. Engines receiving
	// events on other goroutines must hop through it before touching Client.
	Dispatch func(fn func())
}

// Engine-reported load failure codes. Values match the platform webview
// codes script-side error handlers already understand.
const (
	LoadErrorHostLookup = -2
	LoadErrorConnect    = -6
	LoadErrorTimeout    = -8
)

// connectionFailureText is the description delivered when a load exceeds the
// configured deadline.
const connectionFailureText = "The connection to the server was unsuccessful."

// LoadError is the structured payload delivered to plugins as the
// "onReceivedError" message.
type LoadError struct {
	ErrorCode   int    `json:"errorCode"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// NavigationDecision is the terminal outcome of one navigation attempt. An
// attempt is decided exactly once and the decision is never revisited.
type NavigationDecision int

const (
	// NavInternalHandled: a plugin claimed the URL outright.
	NavInternalHandled NavigationDecision = iota
	// NavAllowed: the allow-list admitted the URL into the embedded view.
	NavAllowed
	// NavExternalDelegated: the external-intent allow-list admitted the URL
	// and it was handed to the host opener.
	NavExternalDelegated
	// NavBlocked: nothing admitted the URL; it was logged and dropped.
	NavBlocked
)

func (d NavigationDecision) String() string {
	switch d {
	case NavInternalHandled:
		return "internal-handled"
	case NavAllowed:
		return "allowed"
	case NavExternalDelegated:
		return "external-delegated"
	case NavBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}
