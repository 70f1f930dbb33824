package webbridge

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// flakyPlugin fails Initialize a configured number of times.
type flakyPlugin struct {
	failures int
	inits    int
}

func (p *flakyPlugin) Initialize(env *PluginEnv) error {
	if p.failures > 0 {
		p.failures--
		return errors.New("not ready")
	}
	p.inits++
	return nil
}

func TestPluginManager_LazyInstantiation(t *testing.T) {
	built := 0
	s, _, _ := newTestSession(t, allowAllConfig(),
		PluginEntry{Service: "lazy", Factory: func() Plugin {
			built++
			return &recordingPlugin{}
		}})
	pm := s.PluginManager()

	if built != 0 {
		t.Fatalf("factory ran %d times before first use, want 0", built)
	}
	p := pm.Get("lazy")
	if p == nil || built != 1 {
		t.Fatalf("Get = %v, built = %d", p, built)
	}
	if again := pm.Get("lazy"); again != p {
		t.Fatal("second Get built a new instance")
	}
	if got := pm.Get("nosuch"); got != nil {
		t.Fatalf("Get(nosuch) = %v, want nil", got)
	}
}

func TestPluginManager_InitializeFailureRetries(t *testing.T) {
	flaky := &flakyPlugin{failures: 1}
	s, _, _ := newTestSession(t, allowAllConfig(),
		PluginEntry{Service: "flaky", Plugin: flaky})
	pm := s.PluginManager()

	if p := pm.Get("flaky"); p != nil {
		t.Fatal("Get returned a plugin whose Initialize failed")
	}
	if p := pm.Get("flaky"); p == nil {
		t.Fatal("Get did not retry after an Initialize failure")
	}
	if flaky.inits != 1 {
		t.Fatalf("inits = %d, want 1", flaky.inits)
	}
}

func TestPluginManager_RegistrationReplaces(t *testing.T) {
	first := &recordingPlugin{}
	second := &recordingPlugin{}
	s, _, _ := newTestSession(t, allowAllConfig(),
		PluginEntry{Service: "svc", Plugin: first})
	pm := s.PluginManager()

	pm.Register("svc", second)
	if got := pm.Get("svc"); got != Plugin(second) {
		t.Fatal("re-registration did not replace the service")
	}
}

func TestPluginManager_ExecUnknownService(t *testing.T) {
	s, engine, _ := newTestSession(t, allowAllConfig())
	s.Queue().SetMode(QueueModeEval)
	drain(s)

	onMain(s, func() { s.PluginManager().Exec("NoSuch", "act", "cb1", nil) })
	drain(s)

	text := engine.evalText()
	if !strings.Contains(text, `"cb1",false,2,`) {
		t.Fatalf("evals = %q, want a service-not-found result on cb1", text)
	}
	if !strings.Contains(text, "Service not found: NoSuch") {
		t.Fatalf("evals = %q, want the service name in the message", text)
	}
}

func TestPluginManager_ExecInvalidAction(t *testing.T) {
	probe := &recordingPlugin{} // execFn nil: every action unhandled
	s, engine, _ := newTestSession(t, allowAllConfig(),
		PluginEntry{Service: "probe", Plugin: probe, Onload: true})
	s.Queue().SetMode(QueueModeEval)
	drain(s)

	onMain(s, func() { s.PluginManager().Exec("probe", "bogus", "cb1", nil) })
	drain(s)

	if !strings.Contains(engine.evalText(), "Invalid action: bogus") {
		t.Fatalf("evals = %q, want an invalid-action result", engine.evalText())
	}
}

func TestPluginManager_ExecErrorBecomesErrorResult(t *testing.T) {
	probe := &recordingPlugin{
		execFn: func(action string, args json.RawMessage, cb *CallbackContext) (bool, error) {
			return true, errors.New("backend exploded")
		},
	}
	s, engine, _ := newTestSession(t, allowAllConfig(),
		PluginEntry{Service: "probe", Plugin: probe, Onload: true})
	s.Queue().SetMode(QueueModeEval)
	drain(s)

	onMain(s, func() { s.PluginManager().Exec("probe", "act", "cb1", nil) })
	drain(s)

	text := engine.evalText()
	if !strings.Contains(text, "backend exploded") || !strings.Contains(text, `"cb1",false,6,`) {
		t.Fatalf("evals = %q, want an error result carrying the message", text)
	}
}

func TestPluginManager_ExecErrorAfterResultNotDoubled(t *testing.T) {
	probe := &recordingPlugin{
		execFn: func(action string, args json.RawMessage, cb *CallbackContext) (bool, error) {
			cb.Success("done")
			return true, errors.New("late failure")
		},
	}
	s, engine, _ := newTestSession(t, allowAllConfig(),
		PluginEntry{Service: "probe", Plugin: probe, Onload: true})
	s.Queue().SetMode(QueueModeEval)
	drain(s)

	onMain(s, func() { s.PluginManager().Exec("probe", "act", "cb1", nil) })
	drain(s)

	if got := strings.Count(engine.evalText(), `"cb1"`); got != 1 {
		t.Fatalf("cb1 received %d results, want 1", got)
	}
}

func TestPluginManager_ExecPassesArguments(t *testing.T) {
	var gotAction string
	var gotArgs string
	probe := &recordingPlugin{
		execFn: func(action string, args json.RawMessage, cb *CallbackContext) (bool, error) {
			gotAction = action
			gotArgs = string(args)
			cb.Success(nil)
			return true, nil
		},
	}
	s, _, _ := newTestSession(t, allowAllConfig(),
		PluginEntry{Service: "probe", Plugin: probe, Onload: true})
	s.Queue().SetMode(QueueModeEval)
	drain(s)

	onMain(s, func() {
		s.PluginManager().Exec("probe", "greet", "cb1", json.RawMessage(`["hi",2]`))
	})
	if gotAction != "greet" || gotArgs != `["hi",2]` {
		t.Fatalf("exec saw action=%q args=%q", gotAction, gotArgs)
	}
}

func TestPluginManager_PolicyVoteOrder(t *testing.T) {
	deny := &recordingPlugin{
		navFn: func(url string) PolicyVote { return VoteDeny },
		extFn: func(url string) PolicyVote { return VoteDeny },
	}
	s, _, _ := newTestSession(t, allowAllConfig(),
		PluginEntry{Service: "deny", Plugin: deny, Onload: true})
	pm := s.PluginManager()

	// Registration order: CoreBridge, AllowList (votes allow for "*"), deny.
	// The allow-list answers first, so the later deny never gets a say.
	if !pm.ShouldAllowNavigation("https://anything.example/") {
		t.Fatal("first non-abstain vote (allow) did not decide")
	}
	if !pm.ShouldOpenExternalURL("https://anything.example/") {
		t.Fatal("first non-abstain external vote (allow) did not decide")
	}
}

func TestPluginManager_DenyVoteBlocksLocalDefault(t *testing.T) {
	deny := &recordingPlugin{
		navFn: func(url string) PolicyVote { return VoteDeny },
	}
	s, _, _ := newTestSession(t, DefaultConfig(),
		PluginEntry{Service: "deny", Plugin: deny, Onload: true})
	pm := s.PluginManager()

	// A deny vote beats even the built-in local-content default.
	if pm.ShouldAllowNavigation("file:///www/index.html") {
		t.Fatal("deny vote ignored for local content")
	}
}

func TestPluginManager_ExternalDefaultIsDeny(t *testing.T) {
	s, _, _ := newTestSession(t, DefaultConfig())
	pm := s.PluginManager()

	if pm.ShouldOpenExternalURL("https://anywhere.example/") {
		t.Fatal("external url allowed with every voter abstaining")
	}
	if pm.ShouldOpenExternalURL("file:///sdcard/x") {
		t.Fatal("local-content default leaked into the external policy")
	}
}
