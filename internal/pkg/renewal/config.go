package renewal

import "time"

// Config drives one renewal pass. The job re-reads its config at the start
// of every pass, so updates apply without a restart.
type Config struct {
	// CheckInterval is the scheduler tick between passes.
	CheckInterval time.Duration `json:"check_interval"`
	// DaysBeforeExpiry widens the selection window: subscriptions whose next
	// billing date falls within this many days are picked up early.
	DaysBeforeExpiry int `json:"days_before_expiry"`
	// MaxRetryAttempts is the number of failed charges tolerated before a
	// subscription is suspended.
	MaxRetryAttempts int `json:"max_retry_attempts"`
	// RetryDelay is the back-off stamped on a subscription after a failed
	// charge before the next pass may retry it.
	RetryDelay time.Duration `json:"retry_delay"`
	// ThrottleDelay is slept between candidates within a pass to spread
	// load on the gateway.
	ThrottleDelay time.Duration `json:"throttle_delay"`
	// ChargeTimeout bounds a single token charge; hitting it counts as a
	// failed attempt.
	ChargeTimeout time.Duration `json:"charge_timeout"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval:    1 * time.Hour,
		DaysBeforeExpiry: 3,
		MaxRetryAttempts: 3,
		RetryDelay:       24 * time.Hour,
		ThrottleDelay:    1 * time.Second,
		ChargeTimeout:    30 * time.Second,
	}
}

// normalized fills zero values with defaults so a partially specified config
// can never disable retries or produce a zero tick.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.CheckInterval <= 0 {
		c.CheckInterval = def.CheckInterval
	}
	if c.DaysBeforeExpiry <= 0 {
		c.DaysBeforeExpiry = def.DaysBeforeExpiry
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = def.MaxRetryAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.ThrottleDelay < 0 {
		c.ThrottleDelay = def.ThrottleDelay
	}
	if c.ChargeTimeout <= 0 {
		c.ChargeTimeout = def.ChargeTimeout
	}
	return c
}
