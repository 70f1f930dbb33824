package webbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxRemoteFrameBytes bounds a single frame after decompression.
const maxRemoteFrameBytes = 1 << 20

// compressFrameThreshold is the encoded size past which a frame ships as a
// brotli-compressed binary message instead of text.
const compressFrameThreshold = 8 * 1024

// remoteWriteTimeout bounds one frame write.
const remoteWriteTimeout = 5 * time.Second

// remotePingInterval is the keepalive cadence on an otherwise idle link.
const remotePingInterval = 30 * time.Second

// remoteFrame is the wire unit both directions. Type selects the handling,
// the other fields carry whatever that type needs. Frames that answer a
// request echo its ID.
type remoteFrame struct {
	Type   string    `json:"type"`
	ID     string    `json:"id,omitempty"`
	URL    string    `json:"url,omitempty"`
	Script string    `json:"script,omitempty"`
	Flag   bool      `json:"flag,omitempty"`
	Code   int       `json:"code,omitempty"`
	Text   string    `json:"text,omitempty"`
	Key    *KeyEvent `json:"key,omitempty"`
	Exec   *wireExec `json:"exec,omitempty"`
}

// wireExec carries one script-to-native call from the remote view.
type wireExec struct {
	Secret     int64  `json:"secret"`
	Service    string `json:"service"`
	Action     string `json:"action"`
	CallbackID string `json:"callbackId"`
	Args       string `json:"args"`
}

// RemoteEngine drives a view that renders out of process, over a websocket.
// Commands go out as fire-and-forget frames; the view pushes lifecycle
// events, navigation state, and bridge calls back. Navigation state is
// cached from those pushes so CanGoBack answers without a round trip.
type RemoteEngine struct {
	binding EngineBinding
	log     *zap.Logger
	conn    *websocket.Conn
	cancel  context.CancelFunc

	writeMu sync.Mutex

	mu        sync.Mutex
	url       string
	canGoBack bool
	visible   bool
	closed    bool
}

var _ Engine = (*RemoteEngine)(nil)

// DialRemoteEngine connects to a remote view endpoint.
func DialRemoteEngine(ctx context.Context, endpoint string) (*RemoteEngine, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing remote view: %w", err)
	}
	return NewRemoteEngine(conn), nil
}

// NewRemoteEngine wraps an established connection, e.g. one the host
// accepted from a view that dials in.
func NewRemoteEngine(conn *websocket.Conn) *RemoteEngine {
	conn.SetReadLimit(maxRemoteFrameBytes)
	return &RemoteEngine{
		conn: conn,
		log:  logNamed("remote"),
	}
}

func (e *RemoteEngine) Init(binding EngineBinding) error {
	e.binding = binding
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.run(ctx)
	return nil
}

func (e *RemoteEngine) LoadURL(target string, clearNavigationStack bool) {
	e.mu.Lock()
	e.url = target
	e.mu.Unlock()
	e.send(remoteFrame{Type: "load", URL: target, Flag: clearNavigationStack})
}

func (e *RemoteEngine) URL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.url
}

func (e *RemoteEngine) StopLoading() {
	e.send(remoteFrame{Type: "stop"})
}

func (e *RemoteEngine) CanGoBack() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canGoBack
}

func (e *RemoteEngine) GoBack() bool {
	e.mu.Lock()
	can := e.canGoBack
	e.mu.Unlock()
	if !can {
		return false
	}
	e.send(remoteFrame{Type: "back"})
	return true
}

func (e *RemoteEngine) ClearCache()   { e.send(remoteFrame{Type: "clearCache"}) }
func (e *RemoteEngine) ClearHistory() { e.send(remoteFrame{Type: "clearHistory"}) }

func (e *RemoteEngine) SetPaused(paused bool) {
	e.send(remoteFrame{Type: "pause", Flag: paused})
}

func (e *RemoteEngine) EvalJS(script string) error {
	return e.writeFrame(remoteFrame{Type: "eval", ID: uuid.NewString(), Script: script})
}

func (e *RemoteEngine) Visible() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.visible
}

func (e *RemoteEngine) SetVisible(visible bool) {
	e.mu.Lock()
	e.visible = visible
	e.mu.Unlock()
	e.send(remoteFrame{Type: "visible", Flag: visible})
}

func (e *RemoteEngine) Destroy() {
	e.send(remoteFrame{Type: "destroy"})
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	_ = e.conn.Close(websocket.StatusNormalClosure, "")
}

// send is fire-and-forget: delivery failures are logged, the session state
// machine is driven by the events the view pushes, not by write outcomes.
func (e *RemoteEngine) send(f remoteFrame) {
	if err := e.writeFrame(f); err != nil {
		e.log.Warn("dropping frame", zap.String("type", f.Type), zap.Error(err))
	}
}

func (e *RemoteEngine) writeFrame(f remoteFrame) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return fmt.Errorf("remote view connection is closed")
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", f.Type, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteWriteTimeout)
	defer cancel()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if len(data) > compressFrameThreshold {
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("compressing %s frame: %w", f.Type, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("compressing %s frame: %w", f.Type, err)
		}
		return e.conn.Write(ctx, websocket.MessageBinary, buf.Bytes())
	}
	return e.conn.Write(ctx, websocket.MessageText, data)
}

// run owns the connection: a reader goroutine feeds frames into a channel
// and the loop handles them, pinging on idle. Exits when the connection or
// the engine goes away.
func (e *RemoteEngine) run(ctx context.Context) {
	incoming := make(chan remoteFrame, 64)
	go func() {
		defer close(incoming)
		for {
			typ, data, err := e.conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				r := brotli.NewReader(bytes.NewReader(data))
				data, err = io.ReadAll(io.LimitReader(r, maxRemoteFrameBytes+1))
				if err != nil || len(data) > maxRemoteFrameBytes {
					e.log.Warn("discarding oversized or corrupt binary frame", zap.Error(err))
					continue
				}
			}
			var f remoteFrame
			if err := json.Unmarshal(data, &f); err != nil {
				e.log.Warn("discarding malformed frame", zap.Error(err))
				continue
			}
			select {
			case incoming <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	pingTicker := time.NewTicker(remotePingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case f, ok := <-incoming:
			if !ok {
				e.mu.Lock()
				e.closed = true
				e.mu.Unlock()
				return
			}
			e.handle(f)

		case <-pingTicker.C:
			pingCtx, cancel := context.WithTimeout(ctx, remoteWriteTimeout)
			err := e.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				e.mu.Lock()
				e.closed = true
				e.mu.Unlock()
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// handle routes one view-pushed frame. Anything that reaches the session
// hops to the bridge main context first; replies are written from there.
func (e *RemoteEngine) handle(f remoteFrame) {
	client := e.binding.Client
	gw := e.binding.Exec

	switch f.Type {
	case "state":
		e.mu.Lock()
		e.canGoBack = f.Flag
		if f.URL != "" {
			e.url = f.URL
		}
		e.mu.Unlock()

	case "started":
		e.mu.Lock()
		e.url = f.URL
		e.mu.Unlock()
		e.binding.Dispatch(func() {
			gw.Reset()
			client.OnPageStarted(f.URL)
		})

	case "finished":
		e.binding.Dispatch(func() { client.OnPageFinished(f.URL) })

	case "error":
		e.binding.Dispatch(func() { client.OnLoadError(f.Code, f.Text, f.URL) })

	case "nav":
		e.binding.Dispatch(func() {
			handled := client.OnNavigationAttempt(f.URL)
			e.send(remoteFrame{Type: "navResult", ID: f.ID, Flag: handled})
		})

	case "key":
		if f.Key == nil {
			return
		}
		ev := *f.Key
		e.binding.Dispatch(func() {
			verdict := client.OnDispatchKey(ev)
			e.send(remoteFrame{Type: "keyResult", ID: f.ID, Code: int(verdict)})
		})

	case "handshake":
		e.binding.Dispatch(func() {
			secret, err := gw.Handshake(f.URL, f.Code)
			reply := remoteFrame{Type: "handshakeResult", ID: f.ID, Code: int(secret)}
			if err != nil {
				reply.Text = err.Error()
			}
			e.send(reply)
		})

	case "exec":
		if f.Exec == nil {
			return
		}
		call := *f.Exec
		e.binding.Dispatch(func() {
			payload, err := gw.Exec(call.Secret, call.Service, call.Action, call.CallbackID, call.Args)
			reply := remoteFrame{Type: "execResult", ID: f.ID, Text: payload}
			if err != nil {
				reply.Text = err.Error()
				reply.Code = 1
			}
			e.send(reply)
		})

	case "retrieve":
		if f.Exec == nil {
			return
		}
		secret := f.Exec.Secret
		e.binding.Dispatch(func() {
			payload, err := gw.RetrieveMessages(secret)
			reply := remoteFrame{Type: "retrieveResult", ID: f.ID, Text: payload}
			if err != nil {
				reply.Text = err.Error()
				reply.Code = 1
			}
			e.send(reply)
		})

	default:
		e.log.Debug("ignoring unknown frame", zap.String("type", f.Type))
	}
}
