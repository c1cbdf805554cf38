package guard

import (
	"context"
	"crypto/sha256"
	"errors"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	Name          string
	CacheSize     int
	RatePerSecond float64
	Burst         int
	// Consecutive failures that open the breaker.
	TripAfter    uint32
	OpenDuration time.Duration
}

// Guard wraps a provider with a response cache, a client-side rate limit
// and a circuit breaker. Cached inputs never reach the limiter or breaker.
type Guard struct {
	next    Embedder
	cache   *lru.Cache[[sha256.Size]byte, []float32]
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func New(next Embedder, cfg Config) (*Guard, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.TripAfter == 0 {
		cfg.TripAfter = 5
	}
	if cfg.OpenDuration == 0 {
		cfg.OpenDuration = 30 * time.Second
	}

	cache, err := lru.New[[sha256.Size]byte, []float32](cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	trip := cfg.TripAfter
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("embedding provider breaker state changed", "provider", name, "from", from.String(), "to", to.String())
		},
		// Bad input says nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || apperr.Is(err, apperr.KindValidation)
		},
	})

	return &Guard{
		next:    next,
		cache:   cache,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		breaker: breaker,
	}, nil
}

func (g *Guard) Embed(ctx context.Context, text string) ([]float32, error) {
	key := sha256.Sum256([]byte(text))
	if vec, ok := g.cache.Get(key); ok {
		return append([]float32(nil), vec...), nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "embedding rate limit")
	}

	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.Embed(ctx, text)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "embedding provider unavailable")
	}
	if err != nil {
		return nil, err
	}

	vec := res.([]float32)
	g.cache.Add(key, append([]float32(nil), vec...))
	return vec, nil
}

func (g *Guard) State() gobreaker.State {
	return g.breaker.State()
}

func (g *Guard) CacheLen() int {
	return g.cache.Len()
}
