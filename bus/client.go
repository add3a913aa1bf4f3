package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/buildkite/roko"

	"github.com/kcls/osrfgo/addr"
	"github.com/kcls/osrfgo/osrfmsg"
)

// Config describes how a Client should connect and which address it owns.
type Config struct {
	Redis RedisConfig

	// Domain is the OpenSRF domain this client belongs to, used to
	// construct DomainBus connections to other domains' routers.
	Domain string

	// Self is the address this client receives on. Typically an
	// addr.Client for an API caller, or an addr.Service for a worker.
	Self addr.Address

	// ConnectAttempts bounds the retries Connect performs against the
	// broker before giving up. Zero means a single attempt.
	ConnectAttempts int
}

// Client is a single connection to the bus, pinned to one address. It is
// safe for concurrent use: Send/SendTo serialize through the broker
// connection, and Recv only ever reads from this client's own queue, so
// callers never need external locking to share a Client across goroutines.
type Client struct {
	broker Broker
	self   addr.Address
	domain string

	mu      sync.Mutex
	domains map[string]*Client
}

// Connect opens a Client against the broker described by cfg, retrying the
// initial handshake (a Clear of the client's own queue, which also proves
// the broker is reachable) per cfg.ConnectAttempts.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	broker := NewRedisBroker(cfg.Redis)

	attempts := cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	err := roko.NewRetrier(
		roko.WithMaxAttempts(attempts),
		roko.WithStrategy(roko.Constant(time.Second)),
	).DoWithContext(ctx, func(r *roko.Retrier) error {
		return broker.Clear(ctx, cfg.Self.String())
	})
	if err != nil {
		_ = broker.Close()
		return nil, fmt.Errorf("bus: connect %s: %w", cfg.Self, err)
	}

	return &Client{
		broker:  broker,
		self:    cfg.Self,
		domain:  cfg.Domain,
		domains: make(map[string]*Client),
	}, nil
}

// NewClient wraps an already-constructed Broker as a Client pinned to self,
// without the retried handshake Connect performs. Most callers should use
// Connect; this constructor exists for embedding a custom or in-memory
// Broker (tests, or a non-Redis broker backing) directly.
func NewClient(broker Broker, self addr.Address, domain string) *Client {
	return &Client{
		broker:  broker,
		self:    self,
		domain:  domain,
		domains: make(map[string]*Client),
	}
}

// Self returns the address this client receives on.
func (c *Client) Self() addr.Address { return c.self }

// Send encodes tm and publishes it to tm.To.
func (c *Client) Send(ctx context.Context, tm *osrfmsg.TransportMessage) error {
	return c.SendRaw(ctx, tm.To, tm)
}

// SendTo encodes tm and publishes it to the given address, overriding
// tm.To for delivery (tm.To is left untouched for the recipient to read as
// the logical destination — used by routers forwarding on a client's
// behalf to a same-named service on a different domain).
func (c *Client) SendTo(ctx context.Context, to addr.Address, tm *osrfmsg.TransportMessage) error {
	return c.SendRaw(ctx, to.String(), tm)
}

// SendRaw encodes tm and publishes it to the literal wire address dest.
func (c *Client) SendRaw(ctx context.Context, dest string, tm *osrfmsg.TransportMessage) error {
	payload, err := osrfmsg.Encode(tm)
	if err != nil {
		return fmt.Errorf("bus: encode: %w", err)
	}
	if err := c.broker.Publish(ctx, dest, payload); err != nil {
		return fmt.Errorf("bus: publish %s: %w", dest, err)
	}
	return nil
}

// Recv waits for the next message addressed to this client. filter is
// currently unused by the broker backing (a queue only ever holds messages
// for its own address) but is accepted so callers can assert the envelope
// arrived from the sender they expect.
func (c *Client) Recv(ctx context.Context, timeout time.Duration, filter *addr.Address) (*osrfmsg.TransportMessage, error) {
	payload, err := c.broker.Recv(ctx, c.self.String(), timeout)
	if err != nil {
		return nil, fmt.Errorf("bus: recv %s: %w", c.self, err)
	}
	if payload == nil {
		return nil, nil
	}

	tm, err := osrfmsg.Decode(payload)
	if err != nil {
		return nil, err
	}
	if filter != nil && tm.From != filter.String() {
		return nil, fmt.Errorf("bus: recv %s: unexpected sender %s (want %s)", c.self, tm.From, filter)
	}
	return tm, nil
}

// DomainBus returns a Client connected to the given domain's broker,
// opening and memoizing the connection on first use. The memoized Client
// shares this client's Self address but talks to a distinct broker
// connection, matching a router's need to forward to a service hosted on
// another domain without tearing down its home connection.
func (c *Client) DomainBus(ctx context.Context, domain string) (*Client, error) {
	if domain == c.domain {
		return c, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.domains[domain]; ok {
		return existing, nil
	}

	cfg := Config{
		Redis:  RedisConfig{Addr: domain},
		Domain: domain,
		Self:   c.self,
	}
	dc, err := Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("bus: domain bus %s: %w", domain, err)
	}
	c.domains[domain] = dc
	return dc, nil
}

// Clear discards any backlog queued at this client's own address.
func (c *Client) Clear(ctx context.Context) error {
	return c.broker.Clear(ctx, c.self.String())
}

// Close releases this client's broker connection and every memoized
// DomainBus connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, dc := range c.domains {
		if err := dc.broker.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.broker.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
