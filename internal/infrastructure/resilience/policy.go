package resilience

import "time"

// RetryPolicy bounds in-call retries of one upstream operation. The delay
// doubles after every attempt up to MaxBackoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type BreakerPolicy struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

type Config struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy
	// Operations overrides Retry for individual operations, keyed by the
	// name passed to Execute, e.g. "ollama.describe".
	Operations map[string]RetryPolicy
}

func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     400 * time.Millisecond,
		},
		Breaker: BreakerPolicy{
			Enabled:          true,
			MinRequests:      10,
			FailureRatio:     0.5,
			OpenTimeout:      30 * time.Second,
			HalfOpenMaxCalls: 2,
		},
		// A vision model that is still loading answers 503 for a while.
		Operations: map[string]RetryPolicy{
			"ollama.describe": {MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 4 * time.Second},
			"openai.describe": {MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 4 * time.Second},
		},
	}
}

func (p RetryPolicy) normalize(def RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	out := c
	out.Retry = c.Retry.normalize(def.Retry)

	if out.Breaker.MinRequests == 0 {
		out.Breaker.MinRequests = def.Breaker.MinRequests
	}
	if out.Breaker.FailureRatio <= 0 || out.Breaker.FailureRatio > 1 {
		out.Breaker.FailureRatio = def.Breaker.FailureRatio
	}
	if out.Breaker.OpenTimeout <= 0 {
		out.Breaker.OpenTimeout = def.Breaker.OpenTimeout
	}
	if out.Breaker.HalfOpenMaxCalls == 0 {
		out.Breaker.HalfOpenMaxCalls = def.Breaker.HalfOpenMaxCalls
	}

	out.Operations = make(map[string]RetryPolicy, len(c.Operations))
	for op, p := range c.Operations {
		out.Operations[op] = p.normalize(out.Retry)
	}
	return out
}

func (c Config) retryFor(operation string) RetryPolicy {
	if p, ok := c.Operations[operation]; ok {
		return p
	}
	return c.Retry
}
