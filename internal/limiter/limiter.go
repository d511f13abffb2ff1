package limiter

import (
	"context"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/sheetpack/internal/metrics"
)

// Adaptive combines a Redis-backed circuit breaker with an in-process
// concurrency cap, both keyed by scope ("s3:bucket", "http:host"). The
// breaker cooldown doubles per consecutive trip up to a ceiling.
type Adaptive struct {
	rdb         *redis.Client
	maxInflight int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	mu          sync.Mutex
	sem         map[string]chan struct{}
}

type Options struct {
	RedisURL    string
	MaxInflight int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func New(opts Options) (*Adaptive, error) {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 4
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Minute
	}
	ro, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(ro)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Adaptive{
		rdb:         c,
		maxInflight: opts.MaxInflight,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		sem:         map[string]chan struct{}{},
	}, nil
}

func (a *Adaptive) key(scope string) string {
	return "cb:fetch:" + strings.ToLower(scope)
}

// IsOpen returns true if the breaker is open (cooldown active).
func (a *Adaptive) IsOpen(ctx context.Context, scope string) bool {
	ts, err := a.rdb.Get(ctx, a.key(scope)).Int64()
	if err != nil {
		return false
	}
	return time.Now().Unix() < ts
}

// Open sets or extends the cooldown with exponential backoff per attempt.
func (a *Adaptive) Open(ctx context.Context, scope string) {
	k := a.key(scope)
	attempts, _ := a.rdb.Incr(ctx, k+":attempts").Result()
	if attempts < 1 {
		attempts = 1
	}
	d := a.baseBackoff * (1 << (attempts - 1))
	if d > a.maxBackoff {
		d = a.maxBackoff
	}
	until := time.Now().Add(d).Unix()
	_ = a.rdb.Set(ctx, k, until, d).Err()
	metrics.BreakerOpened()
}

// Close resets the breaker for scope.
func (a *Adaptive) Close(ctx context.Context, scope string) {
	k := a.key(scope)
	n, _ := a.rdb.Del(ctx, k, k+":attempts").Result()
	if n > 0 {
		metrics.BreakerClosed()
	}
}

// Acquire reserves an in-process slot for scope, blocking until one frees up
// or the context ends. The returned func releases the slot.
func (a *Adaptive) Acquire(ctx context.Context, scope string) (func(), error) {
	key := strings.ToLower(scope)
	a.mu.Lock()
	ch, ok := a.sem[key]
	if !ok {
		ch = make(chan struct{}, a.maxInflight)
		a.sem[key] = ch
	}
	a.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Adaptive) CloseClient() error { return a.rdb.Close() }
