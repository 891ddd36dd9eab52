package resilience

import (
	"time"

	"github.com/sells-group/saferoute/internal/config"
)

// ForCellReads builds the retry and breaker policies guarding store reads
// from the retry section of the app config. Unset fields keep the defaults.
func ForCellReads(c config.RetryConfig) (RetryConfig, CircuitBreakerConfig) {
	retry := DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		retry.MaxAttempts = c.MaxAttempts
	}
	retry.InitialBackoff = millisOr(c.InitialBackoffMs, retry.InitialBackoff)
	retry.MaxBackoff = millisOr(c.MaxBackoffMs, retry.MaxBackoff)
	if retry.MaxBackoff < retry.InitialBackoff {
		retry.MaxBackoff = retry.InitialBackoff
	}

	breaker := DefaultCircuitBreakerConfig()
	if c.FailureThreshold > 0 {
		breaker.FailureThreshold = c.FailureThreshold
	}
	if c.ResetTimeoutSecs > 0 {
		breaker.ResetTimeout = time.Duration(c.ResetTimeoutSecs) * time.Second
	}
	return retry, breaker
}

func millisOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
