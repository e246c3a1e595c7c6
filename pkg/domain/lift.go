package domain

import (
	"errors"

	log "github.com/sirupsen/logrus"
)

// LiftIOError converts a generic I/O failure into ProxyInternalError. The
// conversion drops the detail from the classification, so the original
// cause is logged on l and kept in Cause. A value that is already a
// ProxyError is returned as is.
func LiftIOError(l log.FieldLogger, err error) *ProxyError {
	return lift(l, err, "io error")
}

// LiftAddrParseError converts an address parse failure into
// ProxyInternalError, logging the cause like LiftIOError.
func LiftAddrParseError(l log.FieldLogger, err error) *ProxyError {
	return lift(l, err, "addr parse error")
}

func lift(l log.FieldLogger, err error, msg string) *ProxyError {
	var perr *ProxyError
	if errors.As(err, &perr) {
		return perr
	}
	if l == nil {
		l = log.StandardLogger()
	}
	l.WithError(err).Error(msg)
	return &ProxyError{Kind: KindProxyInternalError, Cause: err}
}
