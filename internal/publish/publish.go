// Package publish notifies downstream consumers of flushed heights.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"

	"utxo-cohort-lab/internal/domain"
)

// Channel and stream names.
const (
	Channel = "cohorts:height.flushed"
	Stream  = "cohorts:heights"
)

// DefaultStreamMaxLen caps the stream when no limit is configured.
const DefaultStreamMaxLen = 10_000

// Notification describes the last height of a flushed batch.
type Notification struct {
	Height          domain.Height `json:"height"`
	Timestamp       int64         `json:"timestamp"`
	Supply          domain.Sats   `json:"supply"`
	ShortSupply     domain.Sats   `json:"short_supply"`
	LongSupply      domain.Sats   `json:"long_supply"`
	MedianCostBasis *domain.Cents `json:"median_cost_basis,omitempty"`
}

// Publisher delivers notifications. Delivery is best-effort: failures are
// logged, never returned.
type Publisher interface {
	Publish(ctx context.Context, n Notification)
	Close() error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Publish(context.Context, Notification) {}
func (Nop) Close() error                          { return nil }

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	StreamMaxLen int64 // 0 uses DefaultStreamMaxLen, negative is unlimited
	Logger       *zap.Logger
	OnError      func()
}

// RedisPublisher publishes to a Pub/Sub channel and appends to a capped stream.
type RedisPublisher struct {
	client       *redis.Client
	logger       *zap.Logger
	streamMaxLen int64
	onError      func()
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (*RedisPublisher, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxLen := opts.StreamMaxLen
	if maxLen == 0 {
		maxLen = DefaultStreamMaxLen
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		PoolSize:     4,
		MinIdleConns: 1,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	logger.Info("connected to redis",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int64("stream_max_len", maxLen))

	return &RedisPublisher{client: rdb, logger: logger, streamMaxLen: maxLen, onError: opts.OnError}, nil
}

// Publish sends n to Channel and appends it to Stream.
func (p *RedisPublisher) Publish(ctx context.Context, n Notification) {
	payload, err := sonnet.Marshal(n)
	if err != nil {
		p.fail("encode notification", err, n.Height)
		return
	}

	if err := p.client.Publish(ctx, Channel, payload).Err(); err != nil {
		p.fail("publish notification", err, n.Height)
	}

	args := &redis.XAddArgs{
		Stream: Stream,
		Values: map[string]any{
			"height":  uint64(n.Height),
			"payload": payload,
		},
	}
	if p.streamMaxLen > 0 {
		args.MaxLen = p.streamMaxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		p.fail("append notification", err, n.Height)
	}
}

func (p *RedisPublisher) fail(msg string, err error, h domain.Height) {
	p.logger.Warn(msg, zap.Uint64("height", uint64(h)), zap.Error(err))
	if p.onError != nil {
		p.onError()
	}
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
