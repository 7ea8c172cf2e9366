package recovery

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
)

// Class is the result of classifying a failure.
type Class int

const (
	// ClassLocal failures are logged and absorbed where they happen.
	ClassLocal Class = iota
	// ClassFatal failures mean the transport itself is unusable.
	ClassFatal
)

func (c Class) String() string {
	if c == ClassFatal {
		return "fatal"
	}
	return "local"
}

// Network error codes that warrant a restart.
const (
	CodeHostNotFound      = "ENOTFOUND"
	CodeConnectionRefused = "ECONNREFUSED"
	CodeTransportFatal    = "EFATAL"
	CodeTimedOut          = "ETIMEDOUT"
)

var fatalMarkers = []string{
	CodeHostNotFound,
	CodeConnectionRefused,
	CodeTransportFatal,
	CodeTimedOut,
}

// coder is implemented by errors that carry a machine-readable code.
type coder interface {
	ErrorCode() string
}

// Classify decides whether err is fatal (network-class) or local. Matching
// is substring-based on the error code and on the error message.
func Classify(err error) Class {
	if err == nil {
		return ClassLocal
	}

	if code := ErrorCode(err); code != "" && containsMarker(code) {
		return ClassFatal
	}
	if containsMarker(err.Error()) {
		return ClassFatal
	}
	return ClassLocal
}

// IsFatal is shorthand for Classify(err) == ClassFatal.
func IsFatal(err error) bool {
	return Classify(err) == ClassFatal
}

// ErrorCode extracts a machine-readable code from err. Explicit codes in the
// wrap chain win; Go network errors are mapped to their conventional codes.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var codes []string
	var c coder
	if errors.As(err, &c) {
		codes = append(codes, c.ErrorCode())
	}

	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
		codes = append(codes, CodeHostNotFound)
	case errors.Is(err, syscall.ECONNREFUSED):
		codes = append(codes, CodeConnectionRefused)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		codes = append(codes, CodeTimedOut)
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			codes = append(codes, CodeTimedOut)
		}
	}

	return strings.Join(codes, " ")
}

func containsMarker(s string) bool {
	for _, marker := range fatalMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
