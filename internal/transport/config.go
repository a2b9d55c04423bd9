package transport

import "time"

// Config contains resilient transport settings.
//   - MaxAttempts: total attempts per call, including the first
//   - BaseDelay / MaxDelay: bounds of the exponential backoff schedule
//   - RequestTimeout: per-attempt limit on time to response headers
//   - RateLimit: client-side requests per second, 0 disables
type Config struct {
	MaxAttempts    int           `env:"TRANSPORT_MAX_ATTEMPTS"    envDefault:"3"`
	BaseDelay      time.Duration `env:"TRANSPORT_BASE_DELAY"      envDefault:"500ms"`
	MaxDelay       time.Duration `env:"TRANSPORT_MAX_DELAY"       envDefault:"10s"`
	RequestTimeout time.Duration `env:"TRANSPORT_REQUEST_TIMEOUT" envDefault:"60s"`
	RateLimit      float64       `env:"TRANSPORT_RATE_LIMIT"      envDefault:"0"`
}

const (
	defaultMaxAttempts    = 3
	defaultBaseDelay      = 500 * time.Millisecond
	defaultMaxDelay       = 10 * time.Second
	defaultRequestTimeout = 60 * time.Second
)

// withDefaults fills zero-valued fields.
func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return c
}
