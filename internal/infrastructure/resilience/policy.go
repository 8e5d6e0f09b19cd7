package resilience

import (
	"math"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Config groups the policies one Executor applies to every upstream call.
type Config struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy
	Rate    RatePolicy
}

// RetryPolicy bounds attempts and spaces them with capped exponential backoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// BreakerPolicy trips once FailureRatio of at least MinRequests calls failed.
type BreakerPolicy struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

// RatePolicy throttles each operation independently. Zero PerSecond disables it.
type RatePolicy struct {
	PerSecond float64
	Burst     int
}

// DefaultConfig suits the embedding, reranker and generation calls of a
// single retrieval request: two quick attempts, then the breaker decides.
func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts:    2,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     200 * time.Millisecond,
			Multiplier:     2,
		},
		Breaker: BreakerPolicy{
			Enabled:          true,
			MinRequests:      10,
			FailureRatio:     0.5,
			OpenTimeout:      30 * time.Second,
			HalfOpenMaxCalls: 2,
		},
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	return Config{
		Retry:   c.Retry.withDefaults(def.Retry),
		Breaker: c.Breaker.withDefaults(def.Breaker),
		Rate:    c.Rate.withDefaults(),
	}
}

func (p RetryPolicy) withDefaults(def RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	p.MaxBackoff = max(p.MaxBackoff, p.InitialBackoff)
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

// delay is the wait after the given failed attempt, counting from 1.
func (p RetryPolicy) delay(attempt int) time.Duration {
	wait := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if wait >= float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(wait)
}

func (p BreakerPolicy) withDefaults(def BreakerPolicy) BreakerPolicy {
	if p.MinRequests == 0 {
		p.MinRequests = def.MinRequests
	}
	if p.FailureRatio <= 0 || p.FailureRatio > 1 {
		p.FailureRatio = def.FailureRatio
	}
	if p.OpenTimeout <= 0 {
		p.OpenTimeout = def.OpenTimeout
	}
	if p.HalfOpenMaxCalls == 0 {
		p.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return p
}

func (p BreakerPolicy) shouldTrip(counts gobreaker.Counts) bool {
	if counts.Requests < p.MinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= p.FailureRatio
}

func (p RatePolicy) withDefaults() RatePolicy {
	if p.PerSecond <= 0 {
		return RatePolicy{}
	}
	if p.Burst <= 0 {
		p.Burst = max(1, int(p.PerSecond))
	}
	return p
}
