package cachetable

// config.go defines the cache-wide tunables (spec §6.4) and the
// functional options used to set them, following the teacher's
// pkg/config.go pattern: an unexported config struct filled in by
// Option values, validated once in New().
//
// © 2025 cachetable authors. MIT License.

import (
	"time"

	"go.uber.org/zap"
)

const (
	// defaultSizeLimit is substituted when New is called with
	// sizeLimit==0 (spec §8 boundary behavior).
	defaultSizeLimit int64 = 128 << 20

	// defaultN and defaultL are the pair-list's bucket count and
	// mutex-shard count (spec §3, C2). Both must be powers of two.
	defaultN = 1 << 20
	defaultL = 1 << 20

	defaultEvictionPeriod   = time.Second
	defaultCheckpointPeriod = 60 * time.Second
	defaultCleanerPeriod    = time.Second
	defaultCleanerIterations = 5

	// maxWatermarkGap bounds how far apart neighboring watermarks may be
	// (spec §3: "clamped so neighboring watermarks differ by at most
	// 512 MiB").
	maxWatermarkGap int64 = 512 << 20
)

// config bundles every knob that influences cachetable behaviour. All
// fields are immutable once the Cachetable is constructed.
type config struct {
	sizeLimit int64

	n, l int // pair-list bucket count / mutex-shard count

	evictionPeriod    time.Duration
	checkpointPeriod  time.Duration
	cleanerPeriod     time.Duration
	cleanerIterations int

	logger  *zap.Logger
	metrics metricsSink
}

// Option configures a Cachetable at construction time.
type Option func(*config)

func defaultConfig(sizeLimit int64) *config {
	if sizeLimit <= 0 {
		sizeLimit = defaultSizeLimit
	}
	return &config{
		sizeLimit:         sizeLimit,
		n:                 defaultN,
		l:                 defaultL,
		evictionPeriod:    defaultEvictionPeriod,
		checkpointPeriod:  defaultCheckpointPeriod,
		cleanerPeriod:     defaultCleanerPeriod,
		cleanerIterations: defaultCleanerIterations,
		logger:            zap.NewNop(),
		metrics:           noopMetrics{},
	}
}

// WithLogger plugs an external zap.Logger, stored on the Cachetable. The
// cache never logs on the pin/unpin hot path, and no other path in this
// package emits records through it either.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics installs a Prometheus-backed status sink. Passing a nil
// registry leaves metrics disabled (the default no-op sink).
func WithMetrics(reg prometheusRegisterer) Option {
	return func(c *config) {
		if reg != nil {
			c.metrics = newPromMetrics(reg)
		}
	}
}

// WithEvictionPeriod overrides the evictor's wakeup timer.
func WithEvictionPeriod(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.evictionPeriod = d
		}
	}
}

// WithCheckpointPeriod overrides the periodic checkpoint timer. It only
// takes effect if the caller later starts the periodic checkpointer via
// Cachetable.StartPeriodicCheckpointing; synchronous BeginCheckpoint/
// EndCheckpoint calls are unaffected.
func WithCheckpointPeriod(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.checkpointPeriod = d
		}
	}
}

// WithCleanerPeriod overrides the cleaner's wakeup timer.
func WithCleanerPeriod(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.cleanerPeriod = d
		}
	}
}

// WithCleanerIterations overrides how many pairs the cleaner attempts to
// clean per period. 0 disables the cleaner entirely (spec §8 boundary
// behavior: "cleaner_iterations = 0 disables the cleaner but the cache
// remains correct").
func WithCleanerIterations(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.cleanerIterations = n
		}
	}
}

// WithTableSize overrides the pair-list bucket count (N) and mutex-shard
// count (L). Both must be powers of two; invalid values panic at New()
// time since they indicate a programming error, not a runtime condition.
func WithTableSize(n, l int) Option {
	return func(c *config) {
		if n > 0 {
			c.n = n
		}
		if l > 0 {
			c.l = l
		}
	}
}

func applyOptions(cfg *config, opts []Option) {
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
}

// watermarks derives the four size watermarks from sizeLimit (spec §3).
type watermarks struct {
	low, lowHysteresis, highHysteresis, high int64
	reservedUnreservable                     int64
}

func computeWatermarks(sizeLimit int64) watermarks {
	// clampFrom bounds raw to within maxWatermarkGap of prev — the
	// *immediately preceding* watermark in the chain, not size_limit,
	// per spec §3 ("neighboring watermarks differ by at most 512 MiB").
	clampFrom := func(prev, raw int64) int64 {
		if raw-prev > maxWatermarkGap {
			return prev + maxWatermarkGap
		}
		return raw
	}
	low := sizeLimit
	lowHyst := clampFrom(low, int64(float64(sizeLimit)*1.10))
	highHyst := clampFrom(lowHyst, int64(float64(sizeLimit)*1.25))
	high := clampFrom(highHyst, int64(float64(sizeLimit)*1.50))
	return watermarks{
		low:                   low,
		lowHysteresis:         lowHyst,
		highHysteresis:        highHyst,
		high:                  high,
		reservedUnreservable:  sizeLimit / 4,
	}
}
