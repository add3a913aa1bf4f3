// Package session implements the client and server halves of an OpenSRF
// conversation: Client issues requests and reassembles responses, Server is
// the handle a worker's handler uses to reply.
package session

import "github.com/kcls/osrfgo/osrfmsg"

// Request is a client-side handle over one outstanding call. It carries no
// pointer back to the Client that created it — completion is tracked on the
// Request value itself and driven forward by calling Client.Recv, per the
// fabric's "replace the back-pointer with message passing" design.
type Request struct {
	Thread string
	Trace  int

	complete bool
}

// Complete reports whether this request has received its terminating
// STATUS and has nothing left buffered for its trace in the owning
// session's backlog. A caller should stop calling Recv once this is true.
func (r *Request) Complete(c *Client) bool {
	return r.complete && !c.hasBacklogged(r.Trace)
}

// Response is one classified reply surfaced to a Recv call.
type Response struct {
	// Value is set for a RESULT (including a reassembled PartialComplete).
	Value osrfmsg.Value
	// HasValue distinguishes a RESULT-bearing Response from a bookkeeping
	// one (e.g. STATUS=Complete, which carries no value).
	HasValue bool
	// Complete reports that the thread_trace has reached STATUS=Complete.
	Complete bool
}
