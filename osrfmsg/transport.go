package osrfmsg

import (
	json "github.com/goccy/go-json"

	"github.com/kcls/osrfgo/fabricerr"
)

// TransportMessage is the wire envelope A single
// envelope may carry multiple Messages, e.g. a RESULT immediately followed
// by its terminating STATUS.
type TransportMessage struct {
	To            string
	From          string
	Thread        string
	OSRFXid       string
	RouterCommand string
	RouterClass   string
	RouterReply   string
	Body          []Message
}

type wireTransportMessage struct {
	To            string    `json:"to"`
	From          string    `json:"from"`
	Thread        string    `json:"thread"`
	OSRFXid       string    `json:"osrf_xid,omitempty"`
	RouterCommand string    `json:"router_command,omitempty"`
	RouterClass   string    `json:"router_class,omitempty"`
	RouterReply   string    `json:"router_reply,omitempty"`
	Body          []Message `json:"body"`
}

// Encode serializes a TransportMessage to its wire form.
func Encode(tm *TransportMessage) ([]byte, error) {
	w := wireTransportMessage{
		To:            tm.To,
		From:          tm.From,
		Thread:        tm.Thread,
		OSRFXid:       tm.OSRFXid,
		RouterCommand: tm.RouterCommand,
		RouterClass:   tm.RouterClass,
		RouterReply:   tm.RouterReply,
		Body:          tm.Body,
	}
	return json.Marshal(w)
}

// Decode parses the wire form of a TransportMessage. Malformed envelopes
// return a *fabricerr.Error with code MalformedEnvelope; callers are
// expected to log and drop these rather than treat them as fatal.
func Decode(b []byte) (*TransportMessage, error) {
	var w wireTransportMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fabricerr.MalformedEnvelope("decoding transport message: %v", err)
	}
	if w.To == "" || w.From == "" || w.Thread == "" {
		return nil, fabricerr.MalformedEnvelope("transport message missing to/from/thread")
	}
	return &TransportMessage{
		To:            w.To,
		From:          w.From,
		Thread:        w.Thread,
		OSRFXid:       w.OSRFXid,
		RouterCommand: w.RouterCommand,
		RouterClass:   w.RouterClass,
		RouterReply:   w.RouterReply,
		Body:          w.Body,
	}, nil
}

// NewTransportMessage constructs an envelope carrying one or more messages.
func NewTransportMessage(to, from, thread string, body ...Message) *TransportMessage {
	return &TransportMessage{To: to, From: from, Thread: thread, Body: body}
}
