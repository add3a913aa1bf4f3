package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed Broker. It mirrors the
// connection fields of a typical go-redis client setup: a single address,
// optional credentials, a logical DB index, and an opt-in TLS dial.
type RedisConfig struct {
	Addr       string
	Username   string
	Password   string
	DB         int
	TLSEnabled bool

	// BlockPoll bounds how long a single BLPOP call is allowed to block
	// before it is reissued. This lets a Recv with timeout < 0 (block
	// forever) still notice ctx cancellation promptly instead of wedging
	// inside one unbounded round trip to Redis.
	BlockPoll time.Duration
}

const defaultBlockPoll = 5 * time.Second

// RedisBroker is the production Broker backing: addresses map directly to
// Redis list keys, Publish is RPUSH, Recv is BLPOP, and Clear is DEL.
type RedisBroker struct {
	rdb       *redis.Client
	blockPoll time.Duration
}

// NewRedisBroker dials a Redis-backed Broker per cfg. Dialing is lazy in
// the underlying client (the first command establishes the connection), so
// this never itself returns a network error.
func NewRedisBroker(cfg RedisConfig) *RedisBroker {
	options := &redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	blockPoll := cfg.BlockPoll
	if blockPoll <= 0 {
		blockPoll = defaultBlockPoll
	}

	return &RedisBroker{
		rdb:       redis.NewClient(options),
		blockPoll: blockPoll,
	}
}

func (b *RedisBroker) Publish(ctx context.Context, addr string, payload []byte) error {
	return b.rdb.RPush(ctx, addr, payload).Err()
}

func (b *RedisBroker) Recv(ctx context.Context, addr string, timeout time.Duration) ([]byte, error) {
	switch {
	case timeout == 0:
		return b.recvOnce(ctx, addr)
	case timeout > 0:
		return b.recvBlocking(ctx, addr, timeout)
	default:
		return b.recvForever(ctx, addr)
	}
}

func (b *RedisBroker) recvOnce(ctx context.Context, addr string) ([]byte, error) {
	res, err := b.rdb.LPop(ctx, addr).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (b *RedisBroker) recvBlocking(ctx context.Context, addr string, timeout time.Duration) ([]byte, error) {
	res, err := b.rdb.BLPop(ctx, timeout, addr).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BLPop returns [key, value] on success.
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// recvForever reissues a bounded BLPOP in a loop so ctx cancellation is
// observed between polls instead of blocking on a single unbounded call.
func (b *RedisBroker) recvForever(ctx context.Context, addr string) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		payload, err := b.recvBlocking(ctx, addr, b.blockPoll)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			return payload, nil
		}
	}
}

func (b *RedisBroker) Clear(ctx context.Context, addr string) error {
	return b.rdb.Del(ctx, addr).Err()
}

func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}
