package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gxo-labs/cncbridge/internal/config"
	bridgelog "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/log"
)

// Operation is one attempt of a retried action.
type Operation func(ctx context.Context) error

// Config controls the attempt count and the delay between attempts. The
// delay before attempt n+1 is Delay*BackoffFactor^(n-1), jittered by up to
// ±Jitter and capped at MaxDelay when MaxDelay is positive.
type Config struct {
	Attempts      int
	Delay         time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        float64
	// Name labels log lines, e.g. "controller connect".
	Name string
}

// FromConnectConfig converts the connect section of the bridge configuration.
func FromConnectConfig(c config.ConnectConfig, name string) Config {
	return Config{
		Attempts:      c.GetAttempts(),
		Delay:         c.GetDelay(),
		MaxDelay:      c.GetMaxDelay(),
		BackoffFactor: c.GetBackoffFactor(),
		Jitter:        c.Jitter,
		Name:          name,
	}
}

// Helper runs operations with retries.
type Helper struct {
	log bridgelog.Logger

	mu         sync.Mutex
	randSource *rand.Rand
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewHelper creates a Helper. Panics if log is nil.
func NewHelper(log bridgelog.Logger) *Helper {
	if log == nil {
		panic("retry.NewHelper requires a non-nil logger")
	}
	return &Helper{
		log:        log.With("component", "Retry"),
		randSource: rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs op until it succeeds, the attempts are exhausted, or ctx is done.
// The last operation error is returned on failure.
func (h *Helper) Do(ctx context.Context, cfg Config, op Operation) error {
	cfg = normalize(cfg)
	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return err
			}
			return fmt.Errorf("%s cancelled after %d attempts with last error: %w (context: %v)", cfg.Name, attempt-1, lastErr, err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 1 {
				h.log.Infof("%s succeeded on attempt %d/%d", cfg.Name, attempt, cfg.Attempts)
			}
			return nil
		}
		if attempt == cfg.Attempts {
			break
		}

		wait := h.delay(cfg, attempt)
		h.log.Warnf("%s failed on attempt %d/%d (retrying in %v): %v",
			cfg.Name, attempt, cfg.Attempts, wait.Truncate(time.Millisecond), lastErr)
		if err := h.sleep(ctx, wait); err != nil {
			return fmt.Errorf("%s retry delay cancelled after attempt %d with error: %w (context: %v)", cfg.Name, attempt, lastErr, err)
		}
	}
	h.log.Errorf("%s failed after %d attempts: %v", cfg.Name, cfg.Attempts, lastErr)
	return lastErr
}

func normalize(cfg Config) Config {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.BackoffFactor < 1.0 {
		cfg.BackoffFactor = 1.0
	}
	cfg.Jitter = math.Max(0, math.Min(1, cfg.Jitter))
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.MaxDelay < 0 {
		cfg.MaxDelay = 0
	}
	if cfg.Name == "" {
		cfg.Name = "operation"
	}
	return cfg
}

func (h *Helper) delay(cfg Config, attempt int) time.Duration {
	base := float64(cfg.Delay) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if base > float64(math.MaxInt64) {
		base = float64(math.MaxInt64)
	}
	wait := time.Duration(base)
	if cfg.Jitter > 0 {
		h.mu.Lock()
		factor := cfg.Jitter * (h.randSource.Float64()*2.0 - 1.0)
		h.mu.Unlock()
		wait += time.Duration(float64(wait) * factor)
		if wait < 0 {
			wait = 0
		}
	}
	if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
		wait = cfg.MaxDelay
	}
	return wait
}
