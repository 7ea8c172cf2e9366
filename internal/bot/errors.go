package bot

import (
	"errors"
	"strings"

	"github.com/sony/gobreaker/v2"

	"github.com/vietddude/warden/internal/infra/transport"
	"github.com/vietddude/warden/internal/recovery"
)

// ErrInvalidInput marks a command called with unusable arguments.
var ErrInvalidInput = errors.New("invalid input")

// Category groups failures for user-facing messages.
type Category string

const (
	CategoryNetwork      Category = "network"
	CategoryTimeout      Category = "timeout"
	CategoryRateLimited  Category = "rate_limited"
	CategoryUnavailable  Category = "service_unavailable"
	CategoryInvalidInput Category = "invalid_input"
	CategoryNotConnected Category = "not_connected"
	CategoryGeneric      Category = "generic"
)

// Failure is a user-presentable description of an error. It never carries
// the raw error text.
type Failure struct {
	Category Category
	Message  string
	Fallback string
}

func (f Failure) String() string {
	if f.Fallback == "" {
		return f.Message
	}
	return f.Message + "\n\n" + f.Fallback
}

// DescribeFailure maps err to a cause category and a suggested next step.
func DescribeFailure(err error) Failure {
	code := recovery.ErrorCode(err)
	msg := ""
	if err != nil {
		msg = strings.ToLower(err.Error())
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return Failure{
			Category: CategoryInvalidInput,
			Message:  "That request could not be understood.",
			Fallback: "Check the command usage and try again.",
		}
	case errors.Is(err, transport.ErrNotConnected):
		return Failure{
			Category: CategoryNotConnected,
			Message:  "The bot is reconnecting right now.",
			Fallback: "Please try again in a minute.",
		}
	case strings.Contains(code, recovery.CodeHostNotFound), strings.Contains(code, recovery.CodeConnectionRefused):
		return Failure{
			Category: CategoryNetwork,
			Message:  "Network connectivity issue.",
			Fallback: "Please check your connection and try again.",
		}
	case strings.Contains(code, recovery.CodeTimedOut), strings.Contains(msg, "timeout"):
		return Failure{
			Category: CategoryTimeout,
			Message:  "Request timed out. The service might be slow.",
			Fallback: "Please try again in a moment.",
		}
	case errors.Is(err, ErrRateLimited), strings.Contains(msg, "too many requests"), strings.Contains(msg, "rate limit"):
		return Failure{
			Category: CategoryRateLimited,
			Message:  "Too many requests.",
			Fallback: "Please wait a minute before trying again.",
		}
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests),
		strings.Contains(msg, "internal server error"), strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "service unavailable"):
		return Failure{
			Category: CategoryUnavailable,
			Message:  "The service is temporarily unavailable.",
			Fallback: "Please try again later.",
		}
	default:
		return Failure{
			Category: CategoryGeneric,
			Message:  "Something went wrong.",
			Fallback: "Please try again in a few minutes.",
		}
	}
}
