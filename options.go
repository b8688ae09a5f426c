package hoard

import (
	"time"

	"go.uber.org/zap"

	"github.com/hoardlabs/hoard/retry"
)

// Defaults for store construction.
const (
	// DefaultStagingGrace is how long a staged object survives after its
	// commit resolved, tolerating races with concurrent writers of the
	// same content.
	DefaultStagingGrace = time.Minute

	// DefaultBackgroundLimit bounds concurrently running background tasks
	// (copy-forward, staging cleanup).
	DefaultBackgroundLimit = 16
)

type config struct {
	log     *zap.Logger
	retry   retry.Policy
	grace   time.Duration
	bgLimit int64
	now     func() time.Time
}

func newConfig(opts []Option) config {
	cfg := config{
		log:     zap.NewNop(),
		retry:   retry.NewPolicy(retry.AzureTransient(retry.ClassifierOptions{})),
		grace:   DefaultStagingGrace,
		bgLimit: DefaultBackgroundLimit,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.retry.Observer == nil {
		log := cfg.log
		cfg.retry.Observer = func(ev retry.Event) {
			log.Debug("retrying remote call",
				zap.String("op", ev.Op),
				zap.Int("attempt", ev.Attempt),
				zap.Bool("timed_out", ev.TimedOut),
				zap.Error(ev.Err))
		}
	}
	return cfg
}

// Option configures a store.
type Option func(*config)

// WithLogger sets the logger for background task outcomes and retry events.
// The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(cfg *config) {
		if log != nil {
			cfg.log = log
		}
	}
}

// WithRetryPolicy replaces the retry policy wrapping every remote call.
func WithRetryPolicy(p retry.Policy) Option {
	return func(cfg *config) {
		cfg.retry = p
	}
}

// WithStagingGrace sets the delay before a resolved staged object is
// deleted. Zero deletes immediately.
func WithStagingGrace(d time.Duration) Option {
	return func(cfg *config) {
		if d >= 0 {
			cfg.grace = d
		}
	}
}

// WithBackgroundLimit bounds concurrently running background tasks.
func WithBackgroundLimit(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.bgLimit = int64(n)
		}
	}
}

// withClock overrides the store's time source. Test hook.
func withClock(now func() time.Time) Option {
	return func(cfg *config) {
		cfg.now = now
	}
}
