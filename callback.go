package webbridge

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// CallbackContext routes a plugin's results for one exec invocation back to
// the script side. A context finishes on its first result unless the result
// keeps the callback open; later sends are a plugin defect and are dropped
// with a warning. Safe for use from any goroutine, so plugins may complete
// work asynchronously.
type CallbackContext struct {
	id      string
	session *Session
	log     *zap.Logger

	mu       sync.Mutex
	finished bool
}

func newCallbackContext(callbackID string, s *Session) *CallbackContext {
	return &CallbackContext{
		id:      callbackID,
		session: s,
		log:     logNamed("callback"),
	}
}

// CallbackID reports the script callback this context feeds.
func (c *CallbackContext) CallbackID() string { return c.id }

// Finished reports whether a terminal result was already sent.
func (c *CallbackContext) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// Send delivers a result. The first result without KeepCallback finishes the
// context.
func (c *CallbackContext) Send(r *Result) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		c.log.Warn("result after callback finished",
			zap.String("callbackId", c.id), zap.String("status", r.Status.String()))
		return
	}
	c.finished = !r.KeepCallback
	c.mu.Unlock()
	c.session.SendPluginResult(r, c.id)
}

// Success finishes the context with StatusOK and a payload picked by type:
// strings, numbers, bools, byte slices (delivered as ArrayBuffer), nil, and
// json.RawMessage pass through directly; anything else is marshaled to JSON.
func (c *CallbackContext) Success(payload any) {
	c.Send(resultFor(StatusOK, payload))
}

// Error finishes the context with StatusError and a message.
func (c *CallbackContext) Error(message string) {
	c.Send(NewStringResult(StatusError, message))
}

func resultFor(status Status, payload any) *Result {
	switch v := payload.(type) {
	case nil:
		return NewNullResult(status)
	case string:
		return NewStringResult(status, v)
	case bool:
		return NewBoolResult(status, v)
	case int:
		return NewNumberResult(status, float64(v))
	case int64:
		return NewNumberResult(status, float64(v))
	case float64:
		return NewNumberResult(status, v)
	case []byte:
		return NewBufferResult(status, v)
	case json.RawMessage:
		return NewJSONResult(status, string(v))
	case *Result:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return NewStringResult(StatusJSONError, err.Error())
		}
		return NewJSONResult(status, string(data))
	}
}
