package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrInvalidSeed aborts a crawl before any fetch when a seed cannot be normalized.
var ErrInvalidSeed = errors.New("invalid seed")

// describeError renders a per-job failure as "<class>: <message>", with the
// innermost cause appended when it adds information.
func describeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	desc := classifyError(err) + ": " + msg
	if cause := rootCause(err); cause != err {
		if text := cause.Error(); text != "" && text != msg {
			desc += " [cause: " + text + "]"
		}
	}
	return desc
}

func classifyError(err error) string {
	var (
		dnsErr *net.DNSError
		opErr  *net.OpError
		urlErr *url.Error
		netErr net.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "DeadlineExceeded"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.As(err, &dnsErr):
		return "DNSError"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "Timeout"
	case errors.As(err, &opErr):
		return "OpError"
	case errors.As(err, &urlErr):
		return "RequestError"
	default:
		return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	}
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
