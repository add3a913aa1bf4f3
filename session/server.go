package session

import (
	"context"
	"sync"

	"github.com/kcls/osrfgo/addr"
	"github.com/kcls/osrfgo/bus"
	"github.com/kcls/osrfgo/fabricerr"
	"github.com/kcls/osrfgo/logger"
	"github.com/kcls/osrfgo/osrfmsg"
)

// Server is the worker-side handle a handler uses to reply to one request
// within a connected conversation. A single Server instance lives for the
// whole thread (CONNECT through DISCONNECT); BeginRequest is called once
// per dispatched REQUEST to reset the per-request completion/atomic state,
// ServerSession.
type Server struct {
	log     logger.Logger
	busConn *bus.Client
	thread  string
	service string

	clientAddr addr.Address

	mu                sync.Mutex
	trace             int
	respondedComplete bool
	atomicQueue       *[]osrfmsg.Value
}

// NewServer opens a Server that replies to clientAddr over thread.
func NewServer(log logger.Logger, busConn *bus.Client, service, thread string, clientAddr addr.Address) *Server {
	return &Server{
		log:        log,
		busConn:    busConn,
		thread:     thread,
		service:    service,
		clientAddr: clientAddr,
	}
}

func (s *Server) Thread() string           { return s.thread }
func (s *Server) ClientAddr() addr.Address { return s.clientAddr }

// BeginRequest resets per-request state ahead of dispatching trace. atomic
// starts an atomic response queue when method resolution found a
// ".atomic"-suffixed method name
func (s *Server) BeginRequest(trace int, atomic bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace = trace
	s.respondedComplete = false
	if atomic {
		q := make([]osrfmsg.Value, 0, 4)
		s.atomicQueue = &q
	} else {
		s.atomicQueue = nil
	}
}

// RespondedComplete reports whether send_complete has already fired for
// the request currently in flight.
func (s *Server) RespondedComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.respondedComplete
}

// Respond sends a RESULT carrying value, or — in atomic mode — appends it
// to the pending response queue instead of sending immediately. Calls
// after RespondedComplete are dropped with a warning.
func (s *Server) Respond(ctx context.Context, value osrfmsg.Value) error {
	s.mu.Lock()
	if s.respondedComplete {
		s.mu.Unlock()
		s.log.Warn("session: respond called after send_complete on thread %s", s.thread)
		return nil
	}
	if s.atomicQueue != nil {
		*s.atomicQueue = append(*s.atomicQueue, value)
		s.mu.Unlock()
		return nil
	}
	trace := s.trace
	s.mu.Unlock()

	return s.send(ctx, osrfmsg.NewResult(ctx, trace, value))
}

// RespondPartial sends one chunk of a streamed RESULT. last marks the
// terminating chunk (status PartialComplete); see osrfmsg.PartialBuffer for
// the client-side reassembly this pairs with.
func (s *Server) RespondPartial(ctx context.Context, chunk string, last bool) error {
	s.mu.Lock()
	if s.respondedComplete {
		s.mu.Unlock()
		s.log.Warn("session: respond called after send_complete on thread %s", s.thread)
		return nil
	}
	trace := s.trace
	s.mu.Unlock()

	return s.send(ctx, osrfmsg.NewPartialResult(ctx, trace, chunk, last))
}

// RespondComplete is Respond followed by SendComplete.
func (s *Server) RespondComplete(ctx context.Context, value osrfmsg.Value) error {
	if err := s.Respond(ctx, value); err != nil {
		return err
	}
	return s.SendComplete(ctx)
}

// SendComplete flushes any queued atomic responses as a single array-valued
// RESULT, then sends STATUS=Complete and latches respondedComplete.
func (s *Server) SendComplete(ctx context.Context) error {
	s.mu.Lock()
	if s.respondedComplete {
		s.mu.Unlock()
		return nil
	}
	var flush []osrfmsg.Value
	if s.atomicQueue != nil {
		flush = *s.atomicQueue
	}
	trace := s.trace
	s.respondedComplete = true
	s.mu.Unlock()

	if flush != nil {
		arr, err := osrfmsg.NewValue(flush)
		if err != nil {
			return err
		}
		if err := s.send(ctx, osrfmsg.NewResult(ctx, trace, arr)); err != nil {
			return err
		}
	}
	return s.send(ctx, osrfmsg.NewStatus(ctx, trace, fabricerr.CodeComplete, ""))
}

// RespondError sends a failing STATUS (4xx/5xx) and latches
// respondedComplete, ending the request without a terminating Complete.
func (s *Server) RespondError(ctx context.Context, code fabricerr.Code, format string, args ...any) error {
	return s.Status(ctx, code, format, args...)
}

// Status sends a bare STATUS message (no RESULT) and latches
// respondedComplete — used both for protocol-level replies like
// STATUS=Ok/Timeout and for failure statuses via RespondError.
func (s *Server) Status(ctx context.Context, code fabricerr.Code, format string, args ...any) error {
	s.mu.Lock()
	trace := s.trace
	s.respondedComplete = true
	s.mu.Unlock()

	msg := fabricerr.New(code, format, args...)
	return s.send(ctx, osrfmsg.NewStatus(ctx, trace, code, msg.Message))
}

func (s *Server) send(ctx context.Context, msg osrfmsg.Message) error {
	tm := osrfmsg.NewTransportMessage(s.clientAddr.String(), s.busConn.Self().String(), s.thread, msg)
	domainConn, err := s.busConn.DomainBus(ctx, s.clientAddr.Domain)
	if err != nil {
		return fabricerr.Transport("session.respond", err)
	}
	if err := domainConn.Send(ctx, tm); err != nil {
		return fabricerr.Transport("session.respond", err)
	}
	return nil
}
