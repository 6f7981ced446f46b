package redis

import (
	"errors"
	"net"
	"strings"
)

// IsOOMError returns true if the error is a Redis OOM (Out of Memory) error.
// OOM clears once TTL-bearing keys expire, so callers treat it as retryable.
func IsOOMError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "OOM")
}

// IsTransient reports whether err is worth retrying on the next tick:
// OOM, a network error, or a loading/failover reply.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsOOMError(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.HasPrefix(msg, "LOADING") ||
		strings.HasPrefix(msg, "READONLY") ||
		strings.HasPrefix(msg, "TRYAGAIN")
}
