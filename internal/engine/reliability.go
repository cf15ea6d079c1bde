package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/agentspend/internal/connectors"
	"github.com/xela07ax/agentspend/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ReliabilityConfig struct {
	Name          string
	MaxRequests   uint32
	Interval      time.Duration
	Timeout       time.Duration // how long the breaker stays open
	MaxFailures   uint32
	RateLimit     float64
	RateBurst     int
	RetryAttempts uint
	RetryDelay    time.Duration
}

func (c *ReliabilityConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "predictor"
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = 3
	}
	if c.Interval == 0 {
		c.Interval = 5 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 100
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 20
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 50 * time.Millisecond
	}
}

// ReliabilityWrapper puts a rate limiter, a circuit breaker and retries in
// front of a Predictor.
type ReliabilityWrapper struct {
	next    Predictor
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cfg     ReliabilityConfig
	metrics *Metrics
}

func NewReliabilityWrapper(next Predictor, cfg ReliabilityConfig, metrics *Metrics, logger *zap.Logger) *ReliabilityWrapper {
	cfg.setDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	log := logger.Named("reliability")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > cfg.MaxFailures
		},
		// Business outcomes must not open the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNoEligibleMerchant) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("predictor", name), zap.String("from", from.String()), zap.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(float64(gobreaker.StateClosed))

	return &ReliabilityWrapper{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		cfg:     cfg,
		metrics: metrics,
	}
}

func (w *ReliabilityWrapper) State() gobreaker.State { return w.cb.State() }

func (w *ReliabilityWrapper) Predict(ctx context.Context, in PredictInput) (Prediction, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		w.metrics.PredictorErrors.WithLabelValues("rate_limit").Inc()
		return Prediction{}, fmt.Errorf("engine: rate limit exceeded: %w: %w", domain.ErrDependency, err)
	}

	var out Prediction
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.cfg.RetryAttempts),
			retry.Delay(w.cfg.RetryDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				return !errors.Is(err, domain.ErrNoEligibleMerchant) && !errors.Is(err, domain.ErrValidation)
			}),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, r.Do(func() error {
			p, callErr := w.next.Predict(ctx, in)
			if callErr != nil {
				return callErr
			}
			out = p
			return nil
		})
	})

	if err != nil {
		w.metrics.PredictorErrors.WithLabelValues(errorType(err)).Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Prediction{}, fmt.Errorf("engine: predictor %s unavailable: %w: %w", w.cfg.Name, domain.ErrDependency, err)
		}
		return Prediction{}, err
	}
	return out, nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, domain.ErrNoEligibleMerchant):
		return "no_merchant"
	}
	return "failed"
}
