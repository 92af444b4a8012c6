package registration

import (
	"fmt"
	"net"
	"time"
)

// DialWithRetry implements the fabric-wide TCP connect-retry policy
// (§4.7): up to 10 attempts, 200ms between attempts 1-5, 1000ms between
// attempts 6-10. Only attempts 1, 5, and 9 are logged, to avoid spam.
func DialWithRetry(addr string, log Logger) (net.Conn, error) {
	const maxAttempts = 10

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if shouldLog(attempt) && log != nil {
			log.Info("dial attempt", "addr", addr, "attempt", attempt)
		}

		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		time.Sleep(retryDelay(attempt))
	}
	return nil, fmt.Errorf("registration: dial %s failed after %d attempts: %w", addr, maxAttempts, lastErr)
}

func retryDelay(attempt int) time.Duration {
	if attempt <= 5 {
		return 200 * time.Millisecond
	}
	return 1000 * time.Millisecond
}

func shouldLog(attempt int) bool {
	return attempt == 1 || attempt == 5 || attempt == 9
}
