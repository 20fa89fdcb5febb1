package model

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
)

var (
	// ErrAuthExpired is returned when the remote service rejects the cached
	// credentials.
	ErrAuthExpired = errors.New("remote credentials rejected")

	// ErrNetworkUnavailable is returned for host, connection and timeout
	// failures talking to the remote service.
	ErrNetworkUnavailable = errors.New("network unavailable")
)

// IsNetworkError reports whether err is a transport-level failure: DNS
// resolution, refused or reset connections, or an I/O timeout. Context
// cancellation by the caller is not a network error.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetworkUnavailable) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}
