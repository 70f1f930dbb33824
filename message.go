package webbridge

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Status classifies a plugin Result for the script-side callback dispatch.
type Status int

const (
	// StatusNoResult keeps the callback open without delivering a value.
	StatusNoResult Status = iota
	StatusOK
	StatusServiceNotFound
	StatusInvalidAction
	StatusJSONError
	StatusIOError
	StatusError
)

// statusMessages is the default payload text when a Result carries none.
var statusMessages = [...]string{
	StatusNoResult:        "No result",
	StatusOK:              "OK",
	StatusServiceNotFound: "Service not found",
	StatusInvalidAction:   "Invalid action",
	StatusJSONError:       "JSON error",
	StatusIOError:         "IO error",
	StatusError:           "Error",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusMessages) {
		return statusMessages[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ok reports whether the script side should run the success branch.
func (s Status) ok() bool {
	return s == StatusOK || s == StatusNoResult
}

type payloadKind int

const (
	payloadString payloadKind = iota
	payloadJSON
	payloadNumber
	payloadBool
	payloadNull
	payloadBuffer       // delivered as an ArrayBuffer
	payloadBinaryString // delivered as a byte-per-char string
	payloadMultipart
)

// Result is a structured plugin outcome routed back to one script callback.
type Result struct {
	Status       Status
	KeepCallback bool // leave the script-side callback registered after delivery

	kind  payloadKind
	str   string
	num   float64
	b     bool
	buf   []byte
	raw   string
	parts []*Result
}

// NewResult builds a Result carrying the default status text as payload.
func NewResult(status Status) *Result {
	return NewStringResult(status, status.String())
}

func NewStringResult(status Status, s string) *Result {
	return &Result{Status: status, kind: payloadString, str: s}
}

// NewJSONResult wraps pre-encoded JSON. The text is embedded verbatim in
// both wire forms; callers own its validity.
func NewJSONResult(status Status, raw string) *Result {
	return &Result{Status: status, kind: payloadJSON, raw: raw}
}

func NewNumberResult(status Status, n float64) *Result {
	return &Result{Status: status, kind: payloadNumber, num: n}
}

func NewBoolResult(status Status, b bool) *Result {
	return &Result{Status: status, kind: payloadBool, b: b}
}

func NewNullResult(status Status) *Result {
	return &Result{Status: status, kind: payloadNull}
}

// NewBufferResult delivers data as an ArrayBuffer on the script side.
func NewBufferResult(status Status, data []byte) *Result {
	return &Result{Status: status, kind: payloadBuffer, buf: data}
}

// NewBinaryStringResult delivers data as a raw binary string on the script
// side.
func NewBinaryStringResult(status Status, data []byte) *Result {
	return &Result{Status: status, kind: payloadBinaryString, buf: data}
}

// NewMultipartResult delivers several payloads to one callback invocation.
func NewMultipartResult(status Status, parts []*Result) *Result {
	return &Result{Status: status, kind: payloadMultipart, parts: parts}
}

// encodeBody renders the type-tagged payload of the packed wire form.
func (r *Result) encodeBody(sb *strings.Builder) {
	switch r.kind {
	case payloadString:
		sb.WriteByte('s')
		sb.WriteString(r.str)
	case payloadNumber:
		sb.WriteByte('n')
		sb.WriteString(formatNumber(r.num))
	case payloadBool:
		if r.b {
			sb.WriteByte('t')
		} else {
			sb.WriteByte('f')
		}
	case payloadNull:
		sb.WriteByte('N')
	case payloadBuffer:
		sb.WriteByte('A')
		sb.WriteString(base64.StdEncoding.EncodeToString(r.buf))
	case payloadBinaryString:
		sb.WriteByte('S')
		sb.WriteString(base64.StdEncoding.EncodeToString(r.buf))
	case payloadMultipart:
		sb.WriteByte('M')
		for _, p := range r.parts {
			var part strings.Builder
			p.encodeBody(&part)
			sb.WriteString(strconv.Itoa(part.Len()))
			sb.WriteByte(' ')
			sb.WriteString(part.String())
		}
	default: // payloadJSON
		sb.WriteString(r.raw)
	}
}

// jsArgs renders the payload as the argument list passed to
// callbackFromNative. Multipart results contribute one argument per part.
func (r *Result) jsArgs() string {
	switch r.kind {
	case payloadString:
		return jsQuote(r.str)
	case payloadNumber:
		return formatNumber(r.num)
	case payloadBool:
		return strconv.FormatBool(r.b)
	case payloadNull:
		return "null"
	case payloadBuffer:
		return "__webbridge.b64ToBuf(" + jsQuote(base64.StdEncoding.EncodeToString(r.buf)) + ")"
	case payloadBinaryString:
		return "__webbridge.b64ToStr(" + jsQuote(base64.StdEncoding.EncodeToString(r.buf)) + ")"
	case payloadMultipart:
		args := make([]string, len(r.parts))
		for i, p := range r.parts {
			args[i] = p.jsArgs()
		}
		return strings.Join(args, ",")
	default: // payloadJSON
		return r.raw
	}
}

// PendingMessage is one queued unit of native-to-script work: either a raw
// script statement or a plugin Result bound to its callback.
type PendingMessage struct {
	script     string
	result     *Result
	callbackID string
}

func newScriptMessage(statement string) *PendingMessage {
	return &PendingMessage{script: statement}
}

func newResultMessage(r *Result, callbackID string) *PendingMessage {
	return &PendingMessage{result: r, callbackID: callbackID}
}

// CallbackID reports the callback a result message is bound to, "" for raw
// script messages.
func (m *PendingMessage) CallbackID() string { return m.callbackID }

// EncodeAsMessage renders the packed wire form consumed by poll-style
// transports: 'J' plus the statement for scripts, or ok-flag, keep-flag,
// status, callback id, and a type-tagged body for results.
func (m *PendingMessage) EncodeAsMessage() string {
	var sb strings.Builder
	if m.result == nil {
		sb.WriteByte('J')
		sb.WriteString(m.script)
		return sb.String()
	}
	r := m.result
	if r.Status.ok() {
		sb.WriteByte('S')
	} else {
		sb.WriteByte('F')
	}
	if r.KeepCallback {
		sb.WriteByte('1')
	} else {
		sb.WriteByte('0')
	}
	sb.WriteString(strconv.Itoa(int(r.Status)))
	sb.WriteByte(' ')
	sb.WriteString(m.callbackID)
	sb.WriteByte(' ')
	r.encodeBody(&sb)
	return sb.String()
}

// EncodeAsScript renders the statement form the eval bridge mode injects
// into the page.
func (m *PendingMessage) EncodeAsScript() string {
	if m.result == nil {
		return m.script
	}
	r := m.result
	var sb strings.Builder
	sb.WriteString("__webbridge.callbackFromNative(")
	sb.WriteString(jsQuote(m.callbackID))
	sb.WriteByte(',')
	sb.WriteString(strconv.FormatBool(r.Status.ok()))
	sb.WriteByte(',')
	sb.WriteString(strconv.Itoa(int(r.Status)))
	sb.WriteString(",[")
	sb.WriteString(r.jsArgs())
	sb.WriteString("],")
	sb.WriteString(strconv.FormatBool(r.KeepCallback))
	sb.WriteString(");")
	return sb.String()
}

// jsQuote renders s as a script string literal.
func jsQuote(s string) string {
	return strconv.Quote(s)
}

// jsonQuote renders s as a JSON string literal, for payloads embedded in
// JSON rather than script.
func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// formatNumber renders n the way scripts expect number literals.
func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}
