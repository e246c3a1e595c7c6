package resolver

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	dnstap "github.com/dnstap/golang-dnstap"
	"github.com/miekg/dns"

	"github.com/mimuret/dgram-proxy/pkg/domain"
)

// Traditional resolves names by querying one fixed DNS server over
// UDP, falling back to TCP for truncated answers.
type Traditional struct {
	host        string
	server      netip.AddrPort
	retry       uint
	useTCPOnly  bool
	timeoutMsec uint
	loggers     []domain.ResolvLoggingInterface
}

type request struct {
	msg         *dns.Msg
	useTCP      bool
	retryCount  uint
	timeoutMsec uint
}

func NewTraditional(host string, retry uint, timeoutMsec uint, useTCPOnly bool, loggers ...domain.ResolvLoggingInterface) *Traditional {
	server, _ := netip.ParseAddrPort(host)
	return &Traditional{
		host:        host,
		server:      server,
		retry:       retry,
		timeoutMsec: timeoutMsec,
		useTCPOnly:  useTCPOnly,
		loggers:     loggers,
	}
}

// Resolv sends msg to the server and returns its answer. Failures are
// *domain.ResolvError.
func (t *Traditional) Resolv(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	req := &request{
		msg:         msg,
		useTCP:      false,
		retryCount:  t.retry,
		timeoutMsec: t.timeoutMsec,
	}
	t.logging(domain.TraceLevel, dnstap.Message_RESOLVER_QUERY, msg)
	res, err := t.resolv(ctx, req)
	if err != nil {
		t.logging(domain.ErrorLevel, dnstap.Message_RESOLVER_QUERY, msg)
		return nil, err
	}
	t.logging(domain.TraceLevel, dnstap.Message_RESOLVER_RESPONSE, res)
	return res, nil
}

func (t *Traditional) resolv(ctx context.Context, req *request) (*dns.Msg, error) {
	c := new(dns.Client)

	c.Timeout = time.Duration(req.timeoutMsec) * time.Millisecond
	if req.useTCP || t.useTCPOnly {
		c.Net = "tcp"
	} else {
		c.Net = "udp"
	}
	r, _, err := c.ExchangeContext(ctx, req.msg, t.host)
	if err != nil {
		if err, ok := err.(net.Error); ok && err.Timeout() {
			req.timeoutMsec *= 2
		}
		if req.retryCount > 0 && ctx.Err() == nil {
			req.retryCount--
			return t.resolv(ctx, req)
		}
		if err, ok := err.(net.Error); ok && err.Timeout() {
			return nil, &domain.ResolvError{Err: fmt.Errorf("timeout error timeout(msec): %d: %w", req.timeoutMsec, err), Code: domain.ResolvErrCodeTimeout}
		}
		return nil, &domain.ResolvError{Err: fmt.Errorf("failed to get dns response: %w", err), Code: domain.ResolvErrCodeUnKnown}
	}
	if r.Truncated {
		if c.Net == "tcp" {
			return r, nil
		}
		req.useTCP = true
		return t.resolv(ctx, req)
	}
	return r, nil
}

// LookupNetIP queries A records for "ip4", AAAA records for "ip6" and
// both, A first, for "ip". IP literals are returned without a query.
func (t *Traditional) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	var qtypes []uint16
	switch network {
	case "ip4":
		qtypes = []uint16{dns.TypeA}
	case "ip6":
		qtypes = []uint16{dns.TypeAAAA}
	case "ip":
		qtypes = []uint16{dns.TypeA, dns.TypeAAAA}
	default:
		return nil, net.UnknownNetworkError(network)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}

	var addrs []netip.Addr
	for _, qtype := range qtypes {
		msg := new(dns.Msg).SetQuestion(dns.Fqdn(host), qtype)
		res, err := t.Resolv(ctx, msg)
		if err != nil {
			return nil, err
		}
		if res.Rcode != dns.RcodeSuccess {
			return nil, &domain.ResolvError{Err: fmt.Errorf("%s: %s", host, dns.RcodeToString[res.Rcode]), Code: domain.ResolvErrCodeNoAnswer}
		}
		for _, rr := range res.Answer {
			switch rr := rr.(type) {
			case *dns.A:
				if addr, ok := netip.AddrFromSlice(rr.A.To4()); ok {
					addrs = append(addrs, addr)
				}
			case *dns.AAAA:
				if addr, ok := netip.AddrFromSlice(rr.AAAA.To16()); ok {
					addrs = append(addrs, addr)
				}
			}
		}
	}
	if len(addrs) == 0 {
		return nil, &domain.ResolvError{Err: fmt.Errorf("%s: no address", host), Code: domain.ResolvErrCodeNoAnswer}
	}
	return addrs, nil
}

func (t *Traditional) logging(level domain.LoggerLevel, mtype dnstap.Message_Type, msg *dns.Msg) {
	for _, logger := range t.loggers {
		logger.LoggingResolv(level, mtype, msg, t.server)
	}
}
