package webbridge

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// errBridgeSecret rejects script-to-native calls carrying a stale or wrong
// page secret. One bad call burns the secret; the page must handshake again.
var errBridgeSecret = errors.New("webbridge: bridge secret mismatch")

// errBridgeAccessDenied rejects a handshake from an origin the navigation
// policy does not admit.
var errBridgeAccessDenied = errors.New("webbridge: bridge access denied for origin")

// execArgList is a positional view of an exec call's JSON argument array.
type execArgList []json.RawMessage

func parseExecArgs(raw json.RawMessage) execArgList {
	if len(raw) == 0 {
		return nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil
	}
	return args
}

func (a execArgList) String(i int) string {
	if i >= len(a) {
		return ""
	}
	var s string
	if err := json.Unmarshal(a[i], &s); err != nil {
		return ""
	}
	return s
}

func (a execArgList) Bool(i int, def bool) bool {
	if i >= len(a) {
		return def
	}
	var b bool
	if err := json.Unmarshal(a[i], &b); err != nil {
		return def
	}
	return b
}

// Object unmarshals the i'th argument into out, reporting success.
func (a execArgList) Object(i int, out any) bool {
	if i >= len(a) {
		return false
	}
	return json.Unmarshal(a[i], out) == nil
}

// ExecGateway is the script-to-native entry: exec dispatch, packed message
// retrieval, and bridge-mode selection, all gated by a per-page secret so
// only the frame the bridge handshook with can drive it.
type ExecGateway struct {
	pm    *PluginManager
	queue *MessageQueue
	log   *zap.Logger

	mu     sync.Mutex
	secret int64 // -1 until a handshake issues one
}

func newExecGateway(pm *PluginManager, q *MessageQueue) *ExecGateway {
	return &ExecGateway{pm: pm, queue: q, secret: -1, log: logNamed("exec")}
}

// Handshake establishes the page's bridge access: the origin must pass the
// navigation policy, the initial delivery mode is selected, and a fresh
// secret is minted for the page. Engines call this once per page, from the
// bridge main context, when the page runtime initializes.
func (g *ExecGateway) Handshake(origin string, mode int) (int64, error) {
	if !g.pm.ShouldAllowNavigation(origin) {
		g.log.Error("bridge access denied", zap.String("origin", origin))
		return -1, errBridgeAccessDenied
	}
	g.queue.SetMode(mode)
	secret := newBridgeSecret()
	g.mu.Lock()
	g.secret = secret
	g.mu.Unlock()
	return secret, nil
}

// Reset clears the secret and the queue at a page transition; the next page
// handshakes from scratch.
func (g *ExecGateway) Reset() {
	g.mu.Lock()
	g.secret = -1
	g.mu.Unlock()
	g.queue.Reset()
}

func (g *ExecGateway) verify(op string, secret int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.secret < 0 || secret != g.secret {
		g.secret = -1
		g.log.Error("bridge access with wrong secret, possibly malicious", zap.String("op", op))
		return errBridgeSecret
	}
	return nil
}

// Exec routes one script call to its plugin and returns any already-pending
// messages in packed form, saving the page a retrieval round trip. Delivery
// through the active mode is paused while the plugin runs so chained results
// ride the return value instead.
func (g *ExecGateway) Exec(secret int64, service, action, callbackID, argsJSON string) (string, error) {
	if err := g.verify("exec", secret); err != nil {
		return "", err
	}
	g.queue.SetPaused(true)
	defer g.queue.SetPaused(false)
	g.pm.Exec(service, action, callbackID, json.RawMessage(argsJSON))
	payload, _ := g.queue.PopPacked()
	return payload, nil
}

// RetrieveMessages pops the pending batch in packed form. A trailing '*'
// tells the page to poll again.
func (g *ExecGateway) RetrieveMessages(secret int64) (string, error) {
	if err := g.verify("retrieve", secret); err != nil {
		return "", err
	}
	payload, _ := g.queue.PopPacked()
	return payload, nil
}

// SetBridgeMode selects the delivery strategy by registered index.
func (g *ExecGateway) SetBridgeMode(secret int64, mode int) error {
	if err := g.verify("setBridgeMode", secret); err != nil {
		return err
	}
	g.queue.SetMode(mode)
	return nil
}

// newBridgeSecret mints a random secret small enough to survive a script
// number round trip.
func newBridgeSecret() int64 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return int64(binary.LittleEndian.Uint32(b[:]) & 0x7FFFFFFF)
}
