package osrfmsg

import (
	"strings"

	"github.com/kcls/osrfgo/fabricerr"
)

// PartialBuffer reassembles a chunked RESULT sequence into a single value.
// reassembly is owned by the consumer: a
// ClientSession keeps one PartialBuffer per in-flight thread_trace. Partial
// chunks must arrive strictly in order within a trace — interleaving with
// non-partial RESULTs on the same trace is a protocol error the caller
// should treat as a malformed stream, not silently drop.
type PartialBuffer struct {
	sb      strings.Builder
	started bool
}

// Append adds a chunk from a RESULT with status Partial. The caller must not
// surface a response to its own caller for this message.
func (p *PartialBuffer) Append(chunk string) {
	p.started = true
	p.sb.WriteString(chunk)
}

// Active reports whether the buffer has unflushed chunks.
func (p *PartialBuffer) Active() bool {
	return p.started
}

// Finish appends the final chunk (from a RESULT with status
// PartialComplete, which may be empty), parses the accumulated buffer as a
// single structured value, and clears the buffer. The returned Value is
// what the client session surfaces as the call's response.
func (p *PartialBuffer) Finish(lastChunk string) (Value, error) {
	p.sb.WriteString(lastChunk)
	raw := p.sb.String()
	p.sb.Reset()
	p.started = false

	if raw == "" {
		return Value{}, nil
	}

	v := RawValue([]byte(raw))
	// Validate that what was assembled actually parses as JSON; a
	// malformed accumulation is a protocol error, not a panic waiting to
	// happen in a caller's Decode.
	var probe any
	if err := v.Decode(&probe); err != nil {
		return Value{}, fabricerr.BadRequest("partial response did not reassemble into valid content: %v", err)
	}
	return v, nil
}

// Clear discards any buffered chunks without parsing them, used when a
// non-partial status flushes/ignores an in-progress buffer.
func (p *PartialBuffer) Clear() {
	p.sb.Reset()
	p.started = false
}
