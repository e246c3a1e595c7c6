package domain

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// ClassifyIOError maps a raw send or receive failure of a relay handle to
// a proxy error. Deadlines and would-block results become timeoutKind;
// errors without a finer class are lifted with LiftIOError.
func ClassifyIOError(l log.FieldLogger, err error, timeoutKind Kind) *ProxyError {
	var perr *ProxyError
	switch {
	case errors.As(err, &perr):
		return perr
	case errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.EAGAIN),
		errors.Is(err, syscall.EWOULDBLOCK):
		return &ProxyError{Kind: timeoutKind, Cause: err}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &ProxyError{Kind: KindConnectionRefused, Cause: err}
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return &ProxyError{Kind: KindDestinationIPUnroutable, Cause: err}
	case errors.Is(err, syscall.EMSGSIZE):
		return &ProxyError{Kind: KindProxyInternalResponse, Status: 413, Cause: err}
	case errors.Is(err, net.ErrClosed), errors.Is(err, context.Canceled):
		return &ProxyError{Kind: KindConnectionTerminated, Cause: err}
	}
	return LiftIOError(l, err)
}
