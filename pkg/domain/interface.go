package domain

import (
	"context"
	"net"
	"net/netip"
	"time"

	dnstap "github.com/dnstap/golang-dnstap"
	"github.com/miekg/dns"
)

type LoggerLevel uint16

const (
	PanicLevel LoggerLevel = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
	TraceLevel
)

type RecieverInterface interface {
	RequestID() string
	RemoteIP() net.IP
	RemotePort() uint16
	Data() []byte
	Header(string) []byte
	SetHeader(string, string)
	SetBody([]byte) error
	SetStatusCode(code int)
}

// Exchange describes one relayed datagram round trip.
type Exchange struct {
	RequestID  string
	RemoteIP   net.IP
	RemotePort uint32
	Target     netip.AddrPort
	ContextID  uint64
	Sent       int
	Received   int
	Err        *ProxyError
	Duration   time.Duration
}

type LoggingInterface interface {
	Logging(LoggerLevel, *Exchange)
}

// ResolvLoggingInterface receives the DNS messages a resolver exchanges
// with its server.
type ResolvLoggingInterface interface {
	LoggingResolv(LoggerLevel, dnstap.Message_Type, *dns.Msg, netip.AddrPort)
}

type RelayController interface {
	ServeRelay(RecieverInterface)
}

// ResolvInterface is satisfied by *net.Resolver.
type ResolvInterface interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// RelayInterface is one datagram flow to a fixed destination.
type RelayInterface interface {
	Send([]byte) (int, error)
	RecvContext(context.Context, []byte) (int, error)
	Target() netip.AddrPort
	ContextID() uint64
	Close() error
}

type RelayDialer interface {
	DialHostPort(ctx context.Context, host, port string) (RelayInterface, error)
}

type ResolvErrorCode string

const (
	ResolvErrCodeTimeout    ResolvErrorCode = "TimeoutError"
	ResolvErrCodeUnKnown    ResolvErrorCode = "UnKnownError"
	ResolvErrCodeNoAnswer   ResolvErrorCode = "NoAnswerError"
	ResolvErrCodeConnection ResolvErrorCode = "ConnectionError"
)

type ResolvError struct {
	Err  error
	Code ResolvErrorCode
}

func (e *ResolvError) Unwrap() error { return e.Err }
func (e *ResolvError) Error() string {
	return "dgram-proxy(resolv): " + e.Err.Error()
}
