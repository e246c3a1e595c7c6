package resolver

import (
	"net"

	"github.com/mimuret/dgram-proxy/pkg/domain"
)

// NewSystem returns the system resolver.
func NewSystem() domain.ResolvInterface {
	return net.DefaultResolver
}

// Options configures the resolver built by GetResolver.
type Options struct {
	Addr        string
	Retry       uint
	TimeoutMsec uint
	TCPOnly     bool
	Loggers     []domain.ResolvLoggingInterface
}

// GetResolver returns the resolver named by name, or nil for an unknown
// name.
func GetResolver(name string, opts Options) domain.ResolvInterface {
	switch name {
	case "system":
		return NewSystem()
	case "traditional":
		return NewTraditional(opts.Addr, opts.Retry, opts.TimeoutMsec, opts.TCPOnly, opts.Loggers...)
	}
	return nil
}
