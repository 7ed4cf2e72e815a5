package connection

import (
	"math"
	"net/url"
	"time"
)

// Config holds the push-channel connection settings.
type Config struct {
	URL   string
	Token string

	// BaseInterval is the first reconnect delay; each failed attempt doubles it.
	BaseInterval time.Duration
	// LowFrequencyInterval caps the delay. Once MaxBackoffAttempts is exceeded
	// the manager keeps retrying at this cadence forever.
	LowFrequencyInterval time.Duration
	MaxBackoffAttempts   int

	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	MessageBuffer  int
}

// DefaultConfig returns default connection configuration
func DefaultConfig() Config {
	return Config{
		BaseInterval:         1 * time.Second,
		LowFrequencyInterval: 30 * time.Second,
		MaxBackoffAttempts:   10,
		DialTimeout:          10 * time.Second,
		WriteTimeout:         10 * time.Second,
		MaxMessageSize:       4 << 20,
		MessageBuffer:        256,
	}
}

// BackoffDelay returns the delay before reconnect attempt number attempts
// (zero based): min(base * 2^attempts, cap), or cap once attempts exceeds the
// configured maximum.
func BackoffDelay(attempts int, cfg Config) time.Duration {
	capDelay := cfg.LowFrequencyInterval
	if attempts < 0 {
		attempts = 0
	}
	if attempts > cfg.MaxBackoffAttempts || cfg.BaseInterval <= 0 {
		return capDelay
	}
	delay := float64(cfg.BaseInterval) * math.Pow(2, float64(attempts))
	if delay >= float64(capDelay) {
		return capDelay
	}
	return time.Duration(delay)
}

// BuildURL appends the auth token as a query parameter when one is configured.
func BuildURL(base, token string) string {
	if token == "" {
		return base
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
