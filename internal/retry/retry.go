package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// Signal classifies one attempt-level outcome.
type Signal string

const (
	SignalRetrying        Signal = "retrying"
	SignalRateLimited     Signal = "rate_limited"
	SignalFallbackEngaged Signal = "fallback_engaged"
	SignalDegraded        Signal = "degraded"
)

// Variant tags a step of a fallback chain.
type Variant string

const (
	VariantPrimary     Variant = "primary"
	VariantSimplified  Variant = "simplified"
	VariantPlaceholder Variant = "placeholder"
)

// Step is one operation variant of a chain.
type Step[T any] struct {
	Variant Variant
	Run     func(ctx context.Context) (T, error)
}

// Backoff holds the timing part of a policy.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter adds up to this fraction of the computed delay. Must be < 1.
	Jitter float64
}

// Delay returns the wait after the given failed attempt, before jitter.
// Rate limited failures double the capped delay.
func (b Backoff) Delay(attempt int, rateLimited bool) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.BaseDelay) * math.Pow(2, float64(attempt-1))
	if b.MaxDelay > 0 && d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}
	if rateLimited {
		d *= 2
	}
	return time.Duration(d)
}

// Policy describes how one operation is retried and what it degrades to.
type Policy[T any] struct {
	// Name labels logs and metrics.
	Name string
	Backoff
	// RateLimited and Permanent default to IsRateLimited and IsPermanent.
	RateLimited func(error) bool
	Permanent   func(error) bool
	// Fallbacks run in order once the previous step is exhausted.
	Fallbacks []Step[T]
	// Placeholder is returned when every step failed. When nil the result
	// carries the last error instead.
	Placeholder func() T
}

// Result is the settled outcome of Execute.
type Result[T any] struct {
	Value    T
	Variant  Variant
	Degraded bool
	// Attempts counts calls across all steps.
	Attempts int
	// Err is the last failure seen. It is nil when a step succeeded.
	Err error
}

// Retries is the number of calls made after the first one.
func (r Result[T]) Retries() int {
	if r.Attempts < 1 {
		return 0
	}
	return r.Attempts - 1
}

// Failed reports that every step failed and no placeholder was provisioned.
func (r Result[T]) Failed() bool {
	return r.Err != nil && !r.Degraded
}

// Engine carries the side effects shared by every Execute call.
type Engine struct {
	logger  *logrus.Entry
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func() float64
	observe func(operation string, s Signal)
}

type Option func(*Engine)

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithJitterSource replaces the [0,1) random source used for jitter.
func WithJitterSource(fn func() float64) Option {
	return func(e *Engine) { e.jitter = fn }
}

// WithObserver receives every emitted signal, e.g. for metrics.
func WithObserver(fn func(operation string, s Signal)) Option {
	return func(e *Engine) { e.observe = fn }
}

func NewEngine(logger *logrus.Entry, opts ...Option) *Engine {
	e := &Engine{
		logger: logger,
		sleep:  sleepContext,
		jitter: rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait returns the jittered wait after the given failed attempt.
func (e *Engine) Wait(b Backoff, attempt int, rateLimited bool) time.Duration {
	d := b.Delay(attempt, rateLimited)
	if b.Jitter > 0 {
		d += time.Duration(float64(d) * b.Jitter * e.jitter())
	}
	return d
}

// Execute runs primary under p, walking the fallback chain when a step is
// exhausted. It never panics on capability errors and, with a placeholder
// provisioned, always resolves to a value.
func Execute[T any](ctx context.Context, e *Engine, p Policy[T], primary Step[T]) Result[T] {
	rateLimited := p.RateLimited
	if rateLimited == nil {
		rateLimited = IsRateLimited
	}
	permanent := p.Permanent
	if permanent == nil {
		permanent = IsPermanent
	}
	maxAttempts := max(p.MaxAttempts, 1)

	if primary.Variant == "" {
		primary.Variant = VariantPrimary
	}
	steps := append([]Step[T]{primary}, p.Fallbacks...)

	var res Result[T]
	var lastErr error

chain:
	for i, step := range steps {
		if step.Variant == "" {
			step.Variant = VariantSimplified
		}
		if i > 0 {
			e.emit(p.Name, SignalFallbackEngaged, logrus.Fields{"step": step.Variant, "error": errString(lastErr)})
		}

		for attempt := 1; attempt <= maxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				lastErr = err
				break chain
			}

			res.Attempts++
			v, err := step.Run(ctx)
			if err == nil {
				res.Value = v
				res.Variant = step.Variant
				return res
			}
			lastErr = err

			if permanent(err) || attempt == maxAttempts {
				break
			}

			limited := rateLimited(err)
			wait := e.Wait(p.Backoff, attempt, limited)
			signal := SignalRetrying
			if limited {
				signal = SignalRateLimited
			}
			e.emit(p.Name, signal, logrus.Fields{
				"step":    step.Variant,
				"attempt": attempt,
				"delay":   wait.String(),
				"error":   err.Error(),
			})
			if err := e.sleep(ctx, wait); err != nil {
				lastErr = err
				break chain
			}
		}
	}

	res.Err = lastErr
	if p.Placeholder != nil {
		res.Value = p.Placeholder()
		res.Variant = VariantPlaceholder
		res.Degraded = true
		e.emit(p.Name, SignalDegraded, logrus.Fields{"attempts": res.Attempts, "error": errString(lastErr)})
	}
	return res
}

func (e *Engine) emit(op string, s Signal, fields logrus.Fields) {
	if e.observe != nil {
		e.observe(op, s)
	}
	if e.logger == nil {
		return
	}
	entry := e.logger.WithFields(fields).WithField("operation", op).WithField("signal", string(s))
	switch s {
	case SignalDegraded:
		entry.Warn("operation degraded to placeholder")
	case SignalFallbackEngaged:
		entry.Warn("fallback engaged")
	default:
		entry.Info("retrying upstream call")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
