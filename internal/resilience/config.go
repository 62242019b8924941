package resilience

import "time"

// FromSessionConfig builds the retry policy for acquiring a browser session.
func FromSessionConfig(attempts, backoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if attempts > 0 {
		cfg.MaxAttempts = attempts
	}
	if backoffMs > 0 {
		cfg.InitialBackoff = time.Duration(backoffMs) * time.Millisecond
		cfg.MaxBackoff = 10 * cfg.InitialBackoff
	}
	cfg.OnRetry = RetryLogger("acquire browser session")
	return cfg
}
