package governance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrRequestTimeout is returned when a request exceeds its timeout.
var ErrRequestTimeout = errors.New("request timeout exceeded")

// DefaultRequestTimeout bounds one upstream fetch.
const DefaultRequestTimeout = 10 * time.Second

// TimeoutConfig defines timeout behavior for upstream requests.
type TimeoutConfig struct {
	// RequestTimeout is the maximum duration for a complete request,
	// including reading the response body.
	RequestTimeout time.Duration
}

// DefaultTimeoutConfig returns sensible timeout defaults.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{RequestTimeout: DefaultRequestTimeout}
}

// TimeoutManager enforces timeout policies on requests.
type TimeoutManager struct {
	config TimeoutConfig
}

// NewTimeoutManager creates a timeout manager with the given configuration.
func NewTimeoutManager(config TimeoutConfig) *TimeoutManager {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	return &TimeoutManager{config: config}
}

// Config returns a copy of the current timeout configuration.
func (tm *TimeoutManager) Config() TimeoutConfig {
	return tm.config
}

// Configure validates and replaces the timeout configuration. It is meant for
// start-up wiring only; the manager is not safe for concurrent reconfiguration.
func (tm *TimeoutManager) Configure(config TimeoutConfig) error {
	if config.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	tm.config = config
	return nil
}

// WithRequestTimeout creates a context with request timeout.
func (tm *TimeoutManager) WithRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, tm.config.RequestTimeout)
}

// IsTimeout reports whether err came from a deadline, either the context's or
// the network's.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrRequestTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
