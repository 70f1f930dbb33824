package webbridge

import (
	"errors"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// maxFlushPayload bounds the encoded size of one delivered batch. Remaining
// messages stay queued; packed retrieval marks the truncation with '*' so
// the script side polls again.
const maxFlushPayload = 512 * 1024

// errDeliveryPaused marks a bridge mode that intentionally delivers nothing.
// The queue retains the batch and does not treat it as a failure.
var errDeliveryPaused = errors.New("bridge mode delivers nothing")

// BridgeMode is a strategy for moving queued messages into the script
// context. Deliver receives the pending batch in order; returning an error
// keeps the whole batch queued for the next flush.
type BridgeMode interface {
	Name() string
	Deliver(batch []*PendingMessage) error
	// Reset drops per-page mode state. Called when the queue resets and when
	// the mode becomes active.
	Reset()
}

// MessageQueue buffers native-to-script traffic until the active BridgeMode
// can deliver it. FIFO per session; a successfully delivered message is
// never redelivered, a failed batch is retained in order.
type MessageQueue struct {
	mu       sync.Mutex
	pending  []*PendingMessage
	modes    []BridgeMode
	active   int // index into modes, -1 = bridge disabled
	paused   bool
	flushing bool

	// dispatch posts the flush that follows an enqueue or mode switch onto
	// the bridge main context. When nil the flush runs inline.
	dispatch func(func())

	log *zap.Logger
}

func NewMessageQueue(dispatch func(func())) *MessageQueue {
	return &MessageQueue{
		active:   -1,
		dispatch: dispatch,
		log:      logNamed("queue"),
	}
}

// RegisterMode appends a delivery strategy and returns its index for
// SetMode.
func (q *MessageQueue) RegisterMode(m BridgeMode) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.modes = append(q.modes, m)
	return len(q.modes) - 1
}

// SetMode selects the active delivery strategy by index; -1 disables the
// bridge entirely (enqueued messages are dropped until a mode is selected).
// Out-of-range values are logged and ignored. Switching modes never drops
// or duplicates already-queued messages.
func (q *MessageQueue) SetMode(index int) {
	q.mu.Lock()
	if index < -1 || index >= len(q.modes) {
		q.mu.Unlock()
		q.log.Warn("ignoring invalid bridge mode", zap.Int("index", index))
		return
	}
	changed := index != q.active
	q.active = index
	var mode BridgeMode
	if changed && index >= 0 {
		mode = q.modes[index]
	}
	hasPending := len(q.pending) > 0
	paused := q.paused
	q.mu.Unlock()

	if mode != nil {
		mode.Reset()
		q.log.Debug("bridge mode selected", zap.String("mode", mode.Name()))
		if hasPending && !paused {
			q.scheduleFlush()
		}
	}
}

// ActiveMode reports the selected mode index, -1 when disabled.
func (q *MessageQueue) ActiveMode() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// EnqueueScript queues a raw statement for the page.
func (q *MessageQueue) EnqueueScript(statement string) {
	q.enqueue(newScriptMessage(statement))
}

// EnqueueResult queues a plugin result bound to its script callback. Results
// with no payload and no kept callback are elided; results without a
// callback id are a plugin defect and are dropped with an error log.
func (q *MessageQueue) EnqueueResult(r *Result, callbackID string) {
	if callbackID == "" {
		q.log.Error("plugin result with no callback id", zap.String("status", r.Status.String()))
		return
	}
	if r.Status == StatusNoResult && !r.KeepCallback {
		return
	}
	q.enqueue(newResultMessage(r, callbackID))
}

func (q *MessageQueue) enqueue(m *PendingMessage) {
	q.mu.Lock()
	if q.active < 0 {
		q.mu.Unlock()
		q.log.Debug("dropping message, bridge disabled")
		return
	}
	q.pending = append(q.pending, m)
	paused := q.paused
	q.mu.Unlock()

	if !paused {
		q.scheduleFlush()
	}
}

// Pending reports the number of queued, undelivered messages.
func (q *MessageQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// SetPaused suspends delivery while script-originated exec calls collect
// their results for the chained return path. Unpausing flushes anything that
// accumulated.
func (q *MessageQueue) SetPaused(paused bool) {
	q.mu.Lock()
	q.paused = paused
	hasPending := len(q.pending) > 0
	q.mu.Unlock()

	if !paused && hasPending {
		q.scheduleFlush()
	}
}

// Reset clears the queue and disables the bridge. Engines call this on page
// transitions; the new page re-selects a mode through the exec gateway.
func (q *MessageQueue) Reset() {
	q.mu.Lock()
	q.pending = nil
	q.active = -1
	modes := append([]BridgeMode(nil), q.modes...)
	q.mu.Unlock()

	for _, m := range modes {
		m.Reset()
	}
}

func (q *MessageQueue) scheduleFlush() {
	if q.dispatch == nil {
		_ = q.Flush()
		return
	}
	q.dispatch(func() { _ = q.Flush() })
}

// Flush hands the pending batch to the active mode exactly once. Idempotent
// when the queue is empty. The batch leaves the queue before Deliver runs,
// so script work triggered by the delivery (an exec call popping its chained
// return) never sees an in-flight message; on failure the batch is re-queued
// ahead of anything enqueued meanwhile.
func (q *MessageQueue) Flush() error {
	q.mu.Lock()
	if q.flushing || q.paused || q.active < 0 || len(q.pending) == 0 {
		q.mu.Unlock()
		return nil
	}
	mode := q.modes[q.active]
	batch := q.batchLocked()
	q.pending = q.pending[len(batch):]
	q.flushing = true
	q.mu.Unlock()

	err := mode.Deliver(batch)

	q.mu.Lock()
	q.flushing = false
	if err != nil {
		retained := make([]*PendingMessage, 0, len(batch)+len(q.pending))
		retained = append(retained, batch...)
		retained = append(retained, q.pending...)
		q.pending = retained
	}
	more := err == nil && len(q.pending) > 0
	q.mu.Unlock()

	if errors.Is(err, errDeliveryPaused) {
		return nil
	}
	if err != nil {
		q.log.Warn("delivery failed, batch retained",
			zap.String("mode", mode.Name()), zap.Int("messages", len(batch)), zap.Error(err))
		return err
	}
	if more {
		q.scheduleFlush()
	}
	return nil
}

// batchLocked sizes a batch up to maxFlushPayload without removing it. At
// least one message is always included so oversized singletons still move.
func (q *MessageQueue) batchLocked() []*PendingMessage {
	total := 0
	n := 0
	for _, m := range q.pending {
		size := len(m.EncodeAsMessage())
		if n > 0 && total+size > maxFlushPayload {
			break
		}
		total += size
		n++
	}
	return q.pending[:n]
}

// PopPacked removes up to one batch and renders it in the packed wire form:
// each message prefixed with its encoded length, a trailing '*' when more
// remain. ok is false when the bridge is disabled, the empty string means an
// empty queue.
func (q *MessageQueue) PopPacked() (payload string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active < 0 {
		return "", false
	}
	if len(q.pending) == 0 {
		return "", true
	}
	batch := q.batchLocked()
	var sb strings.Builder
	for _, m := range batch {
		enc := m.EncodeAsMessage()
		sb.WriteString(strconv.Itoa(len(enc)))
		sb.WriteByte(' ')
		sb.WriteString(enc)
	}
	q.pending = q.pending[len(batch):]
	if len(q.pending) > 0 {
		sb.WriteByte('*')
	}
	return sb.String(), true
}

// --- bridge modes

// NoOpBridgeMode retains every queued message without delivering anything.
// Selecting it stops native-to-script traffic until a real mode takes over.
type NoOpBridgeMode struct{}

func (NoOpBridgeMode) Name() string                    { return "noop" }
func (NoOpBridgeMode) Deliver([]*PendingMessage) error { return errDeliveryPaused }
func (NoOpBridgeMode) Reset()                          {}

// EvalBridgeMode delivers batches by evaluating them as script in the page.
// The first delivery after a reset injects the bootstrap runtime, which is a
// no-op when the engine installed it already.
type EvalBridgeMode struct {
	engine  Engine
	ensured bool
	log     *zap.Logger
}

func NewEvalBridgeMode(engine Engine) *EvalBridgeMode {
	return &EvalBridgeMode{engine: engine, log: logNamed("evalmode")}
}

func (m *EvalBridgeMode) Name() string { return "eval" }

func (m *EvalBridgeMode) Reset() { m.ensured = false }

func (m *EvalBridgeMode) Deliver(batch []*PendingMessage) error {
	if !m.ensured {
		if err := m.engine.EvalJS(BootstrapScript()); err != nil {
			return err
		}
		m.ensured = true
	}
	stmts := make([]string, len(batch))
	for i, msg := range batch {
		stmts[i] = msg.EncodeAsScript()
	}
	if err := m.engine.EvalJS(strings.Join(stmts, "\n")); err != nil {
		return err
	}
	m.log.Debug("delivered batch", zap.Int("messages", len(batch)))
	return nil
}
