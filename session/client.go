package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kcls/osrfgo/addr"
	"github.com/kcls/osrfgo/bus"
	"github.com/kcls/osrfgo/fabricerr"
	"github.com/kcls/osrfgo/logger"
	"github.com/kcls/osrfgo/osrfmsg"
)

// ConnectTimeout bounds how long Connect waits for STATUS=Ok.
const ConnectTimeout = 10 * time.Second

type backlogEntry struct {
	from string
	msg  osrfmsg.Message
}

// Client is the client side of an OpenSRF conversation: one fixed thread,
// a request/connect/disconnect surface, and the backlog/partial-reassembly
// bookkeeping described by spec section 3's ClientSession.
//
// A Client is not safe for concurrent use by multiple goroutines; it is
// meant to be owned by the single goroutine driving one logical
// conversation, matching how ClientSession is used in the original fabric.
type Client struct {
	log     logger.Logger
	busConn *bus.Client

	thread      string
	service     string
	serviceAddr addr.Address // bare-service address, used while not connected
	routerAddr  addr.Address

	mu         sync.Mutex
	connected  bool
	workerAddr *addr.Address
	lastTrace  int
	backlog    []backlogEntry
	partials   map[int]*osrfmsg.PartialBuffer
}

// NewClient opens a Client bound to service, routed through routerAddr while
// disconnected. thread is generated fresh per spec section 3's 16-char
// random ASCII convention.
func NewClient(log logger.Logger, busConn *bus.Client, service string, routerAddr addr.Address) *Client {
	return &Client{
		log:         log,
		busConn:     busConn,
		thread:      newThreadID(),
		service:     service,
		serviceAddr: addr.BareService(service),
		routerAddr:  routerAddr,
		partials:    make(map[int]*osrfmsg.PartialBuffer),
	}
}

func (c *Client) Thread() string { return c.thread }

// Request allocates a new thread_trace, wraps method/params in a
// MethodCall, and sends it via the router (disconnected) or the worker's
// domain bus (connected). It does not block for a reply.
func (c *Client) Request(ctx context.Context, method string, params []osrfmsg.Value) (*Request, error) {
	c.mu.Lock()
	c.lastTrace++
	trace := c.lastTrace
	connected := c.connected
	c.mu.Unlock()

	msg := osrfmsg.NewRequest(ctx, trace, method, params)

	var err error
	if connected {
		tm := osrfmsg.NewTransportMessage(c.destination().String(), c.busConn.Self().String(), c.thread, msg)
		err = c.sendToWorker(ctx, tm)
	} else {
		// Not connected: the logical recipient is the bare service, but
		// delivery goes to the router, which resolves it to an instance
		// API routing.
		tm := osrfmsg.NewTransportMessage(c.serviceAddr.String(), c.busConn.Self().String(), c.thread, msg)
		err = c.busConn.SendTo(ctx, c.routerAddr, tm)
	}
	if err != nil {
		return nil, fabricerr.Transport("session.request", err)
	}

	return &Request{Thread: c.thread, Trace: trace}, nil
}

// destination returns the address a top-level connected send targets: the
// address of the worker this session is bound to.
func (c *Client) destination() addr.Address {
	if c.workerAddr != nil {
		return *c.workerAddr
	}
	return c.serviceAddr
}

func (c *Client) sendToWorker(ctx context.Context, tm *osrfmsg.TransportMessage) error {
	c.mu.Lock()
	worker := c.workerAddr
	c.mu.Unlock()
	if worker == nil {
		return fmt.Errorf("session: not connected")
	}
	domainConn, err := c.busConn.DomainBus(ctx, worker.Domain)
	if err != nil {
		return err
	}
	return domainConn.Send(ctx, tm)
}

// Connect sends CONNECT and waits up to ConnectTimeout for STATUS=Ok.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.lastTrace++
	trace := c.lastTrace
	c.mu.Unlock()

	msg := osrfmsg.NewConnect(ctx, trace)
	tm := osrfmsg.NewTransportMessage(c.serviceAddr.String(), c.busConn.Self().String(), c.thread, msg)
	if err := c.busConn.SendTo(ctx, c.routerAddr, tm); err != nil {
		return fabricerr.Transport("session.connect", err)
	}

	req := &Request{Thread: c.thread, Trace: trace}
	deadline := time.Now().Add(ConnectTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.reset()
			return fabricerr.Timeout("connect to %s timed out", c.service)
		}
		resp, err := c.Recv(ctx, req, remaining)
		if err != nil {
			c.reset()
			return err
		}
		c.mu.Lock()
		connected := c.connected
		c.mu.Unlock()
		if connected {
			return nil
		}
		if resp.Complete {
			c.reset()
			return fabricerr.BadRequest("connect to %s failed", c.service)
		}
	}
}

// Disconnect sends DISCONNECT to the current worker, if any, and resets
// local state. It does not wait for a reply and is a no-op if not
// connected.
func (c *Client) Disconnect(ctx context.Context) {
	c.mu.Lock()
	connected := c.connected
	c.lastTrace++
	trace := c.lastTrace
	c.mu.Unlock()

	if !connected {
		return
	}

	msg := osrfmsg.NewDisconnect(ctx, trace)
	tm := osrfmsg.NewTransportMessage(c.destination().String(), c.busConn.Self().String(), c.thread, msg)
	_ = c.sendToWorker(ctx, tm)
	c.reset()
}

// Recv satisfies req from the backlog first, else pulls TransportMessages
// from the bus, filing every Message into the backlog until one matches
// req.Trace or the timeout budget is exhausted. Messages that follow the
// match in the same TransportMessage are backlogged too.
func (c *Client) Recv(ctx context.Context, req *Request, timeout time.Duration) (Response, error) {
	if resp, ok := c.drainBacklog(req.Trace); ok {
		return c.classify(req, resp.from, resp.msg)
	}

	deadline := deadlineFor(timeout)
	for {
		remaining := remainingBudget(deadline, timeout)
		if timeout > 0 && remaining <= 0 {
			return Response{}, nil
		}

		tm, err := c.busConn.Recv(ctx, remaining, nil)
		if err != nil {
			return Response{}, fabricerr.Transport("session.recv", err)
		}
		if tm == nil {
			return Response{}, nil
		}

		for i, m := range tm.Body {
			if m.ThreadTrace == req.Trace {
				resp, err := c.classify(req, tm.From, m)
				if err != nil || resp.HasValue || resp.Complete {
					if err == nil {
						c.mu.Lock()
						for _, rest := range tm.Body[i+1:] {
							c.backlog = append(c.backlog, backlogEntry{from: tm.From, msg: rest})
						}
						c.mu.Unlock()
					}
					return resp, err
				}
				if isContinueStatus(m) {
					// STATUS=Continue tells the caller a long-running call
					// is still alive: restart the receive window instead of
					// letting it keep shrinking against the original
					// deadline.
					deadline = deadlineFor(timeout)
				}
				// STATUS=Ok / Continue: keep looping without surfacing.
				continue
			}
			c.mu.Lock()
			c.backlog = append(c.backlog, backlogEntry{from: tm.From, msg: m})
			c.mu.Unlock()
		}
	}
}

func (c *Client) drainBacklog(trace int) (backlogEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.backlog {
		if e.msg.ThreadTrace == trace {
			c.backlog = append(c.backlog[:i], c.backlog[i+1:]...)
			return e, true
		}
	}
	return backlogEntry{}, false
}

func (c *Client) hasBacklogged(trace int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.backlog {
		if e.msg.ThreadTrace == trace {
			return true
		}
	}
	return false
}

// classify implements the response-classification table of spec section
// 4.3.
func (c *Client) classify(req *Request, from string, m osrfmsg.Message) (Response, error) {
	switch p := m.Payload.(type) {
	case osrfmsg.Result:
		switch p.StatusCode {
		case fabricerr.CodePartial:
			c.partialBuffer(req.Trace).Append(chunkText(p.Content))
			return Response{}, nil
		case fabricerr.CodePartialComplete:
			buf := c.partialBuffer(req.Trace)
			buf.Append(chunkText(p.Content))
			v, err := buf.Finish("")
			c.clearPartialBuffer(req.Trace)
			if err != nil {
				return Response{}, err
			}
			return Response{Value: v, HasValue: true}, nil
		default:
			return Response{Value: p.Content, HasValue: true}, nil
		}

	case osrfmsg.Status:
		switch p.StatusCode {
		case fabricerr.CodeOK:
			c.mu.Lock()
			c.connected = true
			addrVal, err := addr.Parse(from)
			if err == nil {
				c.workerAddr = &addrVal
			}
			c.mu.Unlock()
			return Response{}, nil
		case fabricerr.CodeContinue:
			return Response{}, nil
		case fabricerr.CodeComplete:
			req.complete = true
			return Response{Complete: true}, nil
		default:
			c.reset()
			return Response{}, fabricerr.New(p.StatusCode, "%s", p.StatusLabel)
		}

	default:
		return Response{}, fabricerr.BadRequest("unexpected payload for trace %d", req.Trace)
	}
}

// chunkText recovers the original chunk string from a partial RESULT's
// Content, which is JSON-encoded (quoted) by osrfmsg.NewPartialResult —
// not the raw JSON text itself.
func chunkText(v osrfmsg.Value) string {
	var s string
	_ = v.Decode(&s)
	return s
}

func (c *Client) partialBuffer(trace int) *osrfmsg.PartialBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.partials[trace]
	if !ok {
		buf = &osrfmsg.PartialBuffer{}
		c.partials[trace] = buf
	}
	return buf
}

func (c *Client) clearPartialBuffer(trace int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.partials, trace)
}

// reset implements the "on any non-success STATUS, reset" invariant of
// spec section 3's ClientSession.
func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.workerAddr = nil
	c.backlog = nil
	c.partials = make(map[int]*osrfmsg.PartialBuffer)
}

// isContinueStatus reports whether m is a STATUS=Continue message.
func isContinueStatus(m osrfmsg.Message) bool {
	s, ok := m.Payload.(osrfmsg.Status)
	return ok && s.StatusCode == fabricerr.CodeContinue
}

func deadlineFor(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

func remainingBudget(deadline time.Time, timeout time.Duration) time.Duration {
	if timeout < 0 {
		return -1
	}
	if timeout == 0 {
		return 0
	}
	return time.Until(deadline)
}
