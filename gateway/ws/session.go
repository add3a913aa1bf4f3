package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kcls/osrfgo/addr"
	"github.com/kcls/osrfgo/bus"
	"github.com/kcls/osrfgo/logger"
	"github.com/kcls/osrfgo/osrfmsg"
)

const (
	textMessage  = websocket.TextMessage
	pingMessage  = websocket.PingMessage
	pongMessage  = websocket.PongMessage
	closeMessage = websocket.CloseMessage
)

// writeWait bounds how long a control-frame write (pong, close) may block.
const writeWait = 5 * time.Second

// wsConn is the slice of *websocket.Conn's method set this package depends
// on, narrowed so tests can substitute an in-memory fake instead of driving
// a real socket.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// mailboxMsg is the tagged union the Inbound and Outbound tasks post to the
// Supervisor.
type mailboxMsg interface{ isMailboxMsg() }

// inboundFrame carries one validated WS text frame from the client.
type inboundFrame struct{ text []byte }

func (inboundFrame) isMailboxMsg() {}

// inboundClosed reports the client closed (or the connection died).
type inboundClosed struct{}

func (inboundClosed) isMailboxMsg() {}

// outboundMessage carries one TransportMessage the Outbound task received
// from the fabric, destined for the WS client.
type outboundMessage struct{ tm *osrfmsg.TransportMessage }

func (outboundMessage) isMailboxMsg() {}

// wakeup carries no data; it only nudges the Supervisor's mailbox wait so it
// re-checks the shutdown flag promptly
// cancellation model.
type wakeup struct{}

func (wakeup) isMailboxMsg() {}

// Session bridges one accepted WS connection to the fabric bus. It owns
// the WS write side, the bus send side, the
// per-thread worker-address cache, the pending-request backlog, and the
// in-flight request counter — all touched only from the Supervisor's own
// goroutine, so none of that state needs a lock (only the shutdown flag is
// genuinely shared across the three tasks).
type Session struct {
	log        logger.Logger
	conn       wsConn
	busConn    *bus.Client
	routerAddr addr.Address
	cfg        Config

	shutdown atomic.Bool
	mailbox  chan mailboxMsg

	// Supervisor-owned state.
	sessions     map[string]addr.Address // thread -> cached worker address
	threadXid    map[string]string       // thread -> client-supplied log_xid
	requestQueue [][]byte
	reqsInFlight int
}

// NewSession builds a Session bridging conn to the fabric over busConn,
// routing requests with no cached worker address through routerAddr.
func NewSession(log logger.Logger, conn wsConn, busConn *bus.Client, routerAddr addr.Address, cfg Config) *Session {
	return &Session{
		log:        log,
		conn:       conn,
		busConn:    busConn,
		routerAddr: routerAddr,
		cfg:        cfg.withDefaults(),
		mailbox:    make(chan mailboxMsg, 64),
		sessions:   make(map[string]addr.Address),
		threadXid:  make(map[string]string),
	}
}

// Run drives the session until the client disconnects, a fatal error
// occurs, or ctx is canceled. It starts the Inbound and Outbound tasks as
// goroutines and runs the Supervisor loop itself, returning once all three
// have wound down.
func (s *Session) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.runInbound()
	}()
	go func() {
		defer wg.Done()
		s.runOutbound(ctx)
	}()

	s.runSupervisor(ctx)

	wg.Wait()
	return s.conn.Close()
}

// runInbound reads WS frames until shutdown, translating each into a
// mailbox message Inbound task.
func (s *Session) runInbound() {
	for !s.shutdown.Load() {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.shutdown.Store(true)
			s.post(wakeup{})
			return
		}

		switch messageType {
		case textMessage:
			if int64(len(data)) > s.cfg.MaxMessageSize {
				s.log.Warn("ws gateway: inbound frame %d bytes exceeds max %d; dropping connection",
					len(data), s.cfg.MaxMessageSize)
				s.shutdown.Store(true)
				s.post(wakeup{})
				return
			}
			s.post(inboundFrame{text: data})
		case pingMessage:
			_ = s.conn.WriteControl(pongMessage, data, time.Now().Add(writeWait))
		case closeMessage:
			s.post(inboundClosed{})
			return
		default:
			// Binary/pong frames aren't part of the protocol; ignore.
		}
	}
}

// runOutbound polls the bus for messages addressed to this session and
// forwards each as a mailbox message Outbound
// task. The poll interval lets it observe shutdown between blocking waits.
func (s *Session) runOutbound(ctx context.Context) {
	for !s.shutdown.Load() {
		tm, err := s.busConn.Recv(ctx, s.cfg.PollInterval, nil)
		if err != nil {
			s.log.Warn("ws gateway: bus recv: %v", err)
			s.shutdown.Store(true)
			s.post(wakeup{})
			return
		}
		if tm == nil {
			continue
		}
		s.post(outboundMessage{tm: tm})
	}
}

// post enqueues msg onto the mailbox, dropping it silently if the mailbox
// is somehow full and the session is already shutting down — this only
// happens during teardown races, never during normal operation given the
// mailbox's buffer and the Supervisor's draining.
func (s *Session) post(msg mailboxMsg) {
	select {
	case s.mailbox <- msg:
	default:
		if !s.shutdown.Load() {
			s.mailbox <- msg
		}
	}
}

// runSupervisor is the single owner of every piece of session state; see
// the Session doc comment. Each pass checks the shutdown flag, waits for one
// mailbox message (or PollInterval), handles it, and then drains the
// request backlog.
func (s *Session) runSupervisor(ctx context.Context) {
	for {
		if s.shutdown.Load() {
			s.closeWS()
			return
		}

		select {
		case <-ctx.Done():
			s.shutdown.Store(true)
			continue
		case msg := <-s.mailbox:
			s.handleMailbox(ctx, msg)
		case <-time.After(s.cfg.PollInterval):
			// Nothing arrived; loop back to re-check shutdown.
		}

		s.drainQueue(ctx)
	}
}

func (s *Session) handleMailbox(ctx context.Context, msg mailboxMsg) {
	switch m := msg.(type) {
	case inboundFrame:
		if len(s.requestQueue) >= s.cfg.MaxBacklog {
			s.log.Warn("ws gateway: request backlog exceeded %d; dropping connection", s.cfg.MaxBacklog)
			s.shutdown.Store(true)
			return
		}
		s.requestQueue = append(s.requestQueue, m.text)
	case inboundClosed:
		s.shutdown.Store(true)
	case outboundMessage:
		s.relayToClient(m.tm)
	case wakeup:
		// No-op; only here to unblock the mailbox select.
	}
}

// drainQueue relays queued client requests to the fabric while under the
// in-flight cap step 5.
func (s *Session) drainQueue(ctx context.Context) {
	for len(s.requestQueue) > 0 && s.reqsInFlight < s.cfg.MaxParallel {
		text := s.requestQueue[0]
		s.requestQueue = s.requestQueue[1:]
		s.relayToFabric(ctx, text)
	}
}

func (s *Session) closeWS() {
	deadline := time.Now().Add(writeWait)
	_ = s.conn.WriteControl(closeMessage, []byte{}, deadline)
}

// decRequestsInFlight decrements reqsInFlight, clamped at zero so a
// duplicate or out-of-order status can never drive it negative.
func (s *Session) decRequestsInFlight() {
	if s.reqsInFlight > 0 {
		s.reqsInFlight--
	}
}
