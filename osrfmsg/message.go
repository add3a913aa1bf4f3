package osrfmsg

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/kcls/osrfgo/fabricerr"
)

// Type is a Message's wire type.
type Type string

const (
	TypeConnect    Type = "CONNECT"
	TypeRequest    Type = "REQUEST"
	TypeResult     Type = "RESULT"
	TypeStatus     Type = "STATUS"
	TypeDisconnect Type = "DISCONNECT"
)

// Message is one payload-bearing entry in a TransportMessage's body.
type Message struct {
	Type        Type
	ThreadTrace int
	APILevel    int
	Timezone    string
	Locale      string
	Ingress     string
	Payload     Payload
}

// Payload is the sum type over a Message's body: MethodCall (REQUEST),
// Result (RESULT), Status (STATUS), or NoPayload (CONNECT/DISCONNECT).
type Payload interface {
	isPayload()
}

// MethodCall is the payload of a REQUEST message.
type MethodCall struct {
	Method string
	Params []Value
}

func (MethodCall) isPayload() {}

// Result is the payload of a RESULT message.
type Result struct {
	StatusCode  fabricerr.Code
	StatusLabel string
	Content     Value
}

func (Result) isPayload() {}

// Status is the payload of a STATUS message.
type Status struct {
	StatusCode  fabricerr.Code
	StatusLabel string
}

func (Status) isPayload() {}

// NoPayload is the payload of CONNECT/DISCONNECT messages.
type NoPayload struct{}

func (NoPayload) isPayload() {}

// NewResult builds a RESULT message carrying an arbitrary content value,
// stamped with the ambient locale/ingress from ctx.
func NewResult(ctx context.Context, trace int, content Value) Message {
	return newMessage(ctx, TypeResult, trace, Result{
		StatusCode:  fabricerr.CodeOK,
		StatusLabel: fabricerr.CodeOK.Label(),
		Content:     content,
	})
}

// NewPartialResult builds a chunked RESULT message: status Partial if this
// is not the last chunk, PartialComplete if it is. See osrfmsg's reassembly
// helpers in partial.go.
func NewPartialResult(ctx context.Context, trace int, chunk string, last bool) Message {
	code := fabricerr.CodePartial
	if last {
		code = fabricerr.CodePartialComplete
	}
	content, _ := NewValue(chunk)
	return newMessage(ctx, TypeResult, trace, Result{
		StatusCode:  code,
		StatusLabel: code.Label(),
		Content:     content,
	})
}

// NewStatus builds a STATUS message.
func NewStatus(ctx context.Context, trace int, code fabricerr.Code, label string) Message {
	if label == "" {
		label = code.Label()
	}
	return newMessage(ctx, TypeStatus, trace, Status{StatusCode: code, StatusLabel: label})
}

// NewRequest builds a REQUEST message carrying a method call.
func NewRequest(ctx context.Context, trace int, method string, params []Value) Message {
	return newMessage(ctx, TypeRequest, trace, MethodCall{Method: method, Params: params})
}

// NewConnect builds a CONNECT message.
func NewConnect(ctx context.Context, trace int) Message {
	return newMessage(ctx, TypeConnect, trace, NoPayload{})
}

// NewDisconnect builds a DISCONNECT message.
func NewDisconnect(ctx context.Context, trace int) Message {
	return newMessage(ctx, TypeDisconnect, trace, NoPayload{})
}

func newMessage(ctx context.Context, t Type, trace int, p Payload) Message {
	locale, ingress := AmbientFromContext(ctx)
	return Message{
		Type:        t,
		ThreadTrace: trace,
		Locale:      locale,
		Ingress:     ingress,
		Payload:     p,
	}
}

// wireMessage is the JSON shape of a Message on the wire.
type wireMessage struct {
	Type        Type   `json:"type"`
	ThreadTrace int    `json:"thread_trace"`
	APILevel    int    `json:"api_level,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Locale      string `json:"locale,omitempty"`
	Ingress     string `json:"ingress,omitempty"`

	Method string  `json:"method,omitempty"`
	Params []Value `json:"params,omitempty"`

	StatusCode  *fabricerr.Code `json:"statusCode,omitempty"`
	StatusLabel string          `json:"status,omitempty"`
	Content     *Value          `json:"content,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		Type:        m.Type,
		ThreadTrace: m.ThreadTrace,
		APILevel:    m.APILevel,
		Timezone:    m.Timezone,
		Locale:      m.Locale,
		Ingress:     m.Ingress,
	}
	switch p := m.Payload.(type) {
	case MethodCall:
		w.Method = p.Method
		w.Params = p.Params
	case Result:
		w.StatusCode = &p.StatusCode
		w.StatusLabel = p.StatusLabel
		w.Content = &p.Content
	case Status:
		w.StatusCode = &p.StatusCode
		w.StatusLabel = p.StatusLabel
	case NoPayload, nil:
		// no payload fields
	default:
		return nil, fmt.Errorf("osrfmsg: unknown payload type %T", p)
	}
	return json.Marshal(w)
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("osrfmsg: decoding message: %w", err)
	}
	if w.Type == "" {
		return fabricerr.MalformedEnvelope("message missing required field \"type\"")
	}

	m.Type = w.Type
	m.ThreadTrace = w.ThreadTrace
	m.APILevel = w.APILevel
	m.Timezone = w.Timezone
	m.Locale = w.Locale
	m.Ingress = w.Ingress

	switch w.Type {
	case TypeRequest:
		m.Payload = MethodCall{Method: w.Method, Params: w.Params}
	case TypeResult:
		if w.StatusCode == nil {
			return fabricerr.MalformedEnvelope("RESULT message missing statusCode")
		}
		content := Value{}
		if w.Content != nil {
			content = *w.Content
		}
		m.Payload = Result{StatusCode: *w.StatusCode, StatusLabel: w.StatusLabel, Content: content}
	case TypeStatus:
		if w.StatusCode == nil {
			return fabricerr.MalformedEnvelope("STATUS message missing statusCode")
		}
		m.Payload = Status{StatusCode: *w.StatusCode, StatusLabel: w.StatusLabel}
	case TypeConnect, TypeDisconnect:
		m.Payload = NoPayload{}
	default:
		return fabricerr.MalformedEnvelope("unknown message type %q", w.Type)
	}
	return nil
}
