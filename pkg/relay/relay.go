// Package relay implements the per-flow datagram relay handle: one UDP
// socket bound to a local ephemeral port and connected to exactly one
// destination.
package relay

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/mimuret/dgram-proxy/pkg/domain"
)

// State is the lifecycle state of a DgramProxy.
type State int

const (
	// StatePending means connect reported would-block; the association is
	// retried on the next Send, Recv or Connect.
	StatePending State = iota
	// StateConnected means the socket is associated with its target.
	StateConnected
	// StateClosed means the socket has been released.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Config holds the values the multiplexing layer may choose per flow.
type Config struct {
	// BindAddr is the local address sockets are bound to.
	BindAddr netip.AddrPort
	// ContextID tags every handle created with this config.
	ContextID uint64
}

// DefaultConfig binds to the IPv4 wildcard on an ephemeral port with
// context id 0.
func DefaultConfig() Config {
	return Config{
		BindAddr:  netip.AddrPortFrom(netip.IPv4Unspecified(), 0),
		ContextID: 0,
	}
}

// Dialer creates DgramProxy handles.
type Dialer struct {
	config   Config
	resolver domain.ResolvInterface
	log      log.FieldLogger
}

// NewDialer returns a Dialer. A nil resolver means net.DefaultResolver and
// a nil logger means the logrus standard logger.
func NewDialer(cfg Config, resolver domain.ResolvInterface, l log.FieldLogger) *Dialer {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if l == nil {
		l = log.StandardLogger()
	}
	if !cfg.BindAddr.IsValid() {
		cfg.BindAddr = DefaultConfig().BindAddr
	}
	cfg.BindAddr = netip.AddrPortFrom(cfg.BindAddr.Addr().Unmap(), cfg.BindAddr.Port())
	return &Dialer{
		config:   cfg,
		resolver: resolver,
		log:      l.WithField("Package", "relay"),
	}
}

// WithHostPort resolves host and connects a new handle to its first
// address. A port that is not a non-zero 16 bit number fails with
// DestinationNotFound; any resolver failure, or an empty answer, fails
// with DNSError.
func (d *Dialer) WithHostPort(ctx context.Context, host, port string) (*DgramProxy, error) {
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return nil, domain.ErrDestinationNotFound
	}
	addrs, err := d.resolver.LookupNetIP(ctx, d.lookupNetwork(), host)
	if err != nil {
		d.log.WithFields(log.Fields{
			"func":  "WithHostPort",
			"host":  host,
			"Error": err,
		}).Error("failed to resolve destination")
		return nil, &domain.ProxyError{Kind: domain.KindDNSError, Cause: err}
	}
	if len(addrs) == 0 {
		d.log.WithFields(log.Fields{
			"func": "WithHostPort",
			"host": host,
		}).Error("resolver returned no address")
		return nil, domain.ErrDNSError
	}
	return d.WithAddrPort(addrs[0], uint16(p))
}

// WithAddrPort connects a new handle to ip:port.
func (d *Dialer) WithAddrPort(ip netip.Addr, port uint16) (*DgramProxy, error) {
	return d.WithSockAddr(netip.AddrPortFrom(ip, port))
}

// WithSockAddr binds a socket to the configured local address and connects
// it to target. Bind failures are lifted to ProxyInternalError, connect
// failures other than would-block are ConnectionRefused.
func (d *Dialer) WithSockAddr(target netip.AddrPort) (*DgramProxy, error) {
	if !target.IsValid() {
		return nil, domain.LiftAddrParseError(d.log, &net.AddrError{Err: "invalid target address", Addr: target.String()})
	}
	target = netip.AddrPortFrom(target.Addr().Unmap(), target.Port())
	// Sockets from the net package are already in non-blocking mode. Send
	// and Recv call into the socket directly and skip the netpoller wait.
	conn, err := net.ListenUDP(bindNetwork(d.config.BindAddr), net.UDPAddrFromAddrPort(d.config.BindAddr))
	if err != nil {
		return nil, domain.LiftIOError(d.log, err)
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, domain.LiftIOError(d.log, err)
	}
	p := &DgramProxy{
		conn:      conn,
		raw:       raw,
		target:    target,
		contextID: d.config.ContextID,
		log:       d.log,
	}
	if err := p.Connect(); err != nil && !IsWouldBlock(err) {
		conn.Close()
		d.log.WithFields(log.Fields{
			"func":   "WithSockAddr",
			"target": target.String(),
			"Error":  err,
		}).Error("connect() failed")
		return nil, &domain.ProxyError{Kind: domain.KindConnectionRefused, Cause: err}
	}
	return p, nil
}

// DialHostPort is WithHostPort returning the handle as a
// domain.RelayInterface.
func (d *Dialer) DialHostPort(ctx context.Context, host, port string) (domain.RelayInterface, error) {
	p, err := d.WithHostPort(ctx, host, port)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (d *Dialer) lookupNetwork() string {
	if d.config.BindAddr.Addr().Is4() {
		return "ip4"
	}
	return "ip6"
}

func bindNetwork(addr netip.AddrPort) string {
	if addr.Addr().Is4() {
		return "udp4"
	}
	return "udp6"
}

// DgramProxy owns one non-blocking UDP socket connected to a single target.
// It has no internal locking; a handle must have one owner.
type DgramProxy struct {
	conn      *net.UDPConn
	raw       syscall.RawConn
	target    netip.AddrPort
	contextID uint64
	state     State
	log       log.FieldLogger
}

// Target is the destination the socket is connected to.
func (p *DgramProxy) Target() netip.AddrPort { return p.target }

// ContextID is the multiplexing tag assigned at construction.
func (p *DgramProxy) ContextID() uint64 { return p.contextID }

// State returns the current lifecycle state.
func (p *DgramProxy) State() State { return p.state }

// LocalAddr is the bound local address.
func (p *DgramProxy) LocalAddr() netip.AddrPort {
	addr := p.conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}

// Connect associates the socket with its target. It is a no-op on a
// connected handle. A would-block outcome leaves the handle pending and is
// returned so that IsWouldBlock reports true.
func (p *DgramProxy) Connect() error {
	switch p.state {
	case StateConnected:
		return nil
	case StateClosed:
		return net.ErrClosed
	}
	err := connect(p.raw, p.target)
	if err != nil {
		if IsWouldBlock(err) {
			p.log.WithFields(log.Fields{
				"func":   "Connect",
				"target": p.target.String(),
			}).Info("connect() would block")
		}
		return err
	}
	p.state = StateConnected
	return nil
}

// Send writes buf as one datagram to the target. It never blocks; the
// returned error is the raw socket error.
func (p *DgramProxy) Send(buf []byte) (int, error) {
	if err := p.Connect(); err != nil {
		return 0, err
	}
	return send(p.raw, buf)
}

// Recv reads the next datagram into buf, truncating it when buf is too
// small. It never blocks; with nothing queued the error satisfies
// IsWouldBlock.
func (p *DgramProxy) Recv(buf []byte) (int, error) {
	if err := p.Connect(); err != nil {
		return 0, err
	}
	return recv(p.raw, buf, false)
}

// RecvContext is Recv that waits for readability until ctx is done. When
// ctx ends first the error matches os.ErrDeadlineExceeded.
func (p *DgramProxy) RecvContext(ctx context.Context, buf []byte) (int, error) {
	if err := p.Connect(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := p.conn.SetReadDeadline(deadline); err != nil {
			return 0, err
		}
	}
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		p.conn.SetReadDeadline(aLongTimeAgo)
		close(done)
	})
	defer func() {
		// a callback already running must finish before the reset
		if !stop() {
			<-done
		}
		p.conn.SetReadDeadline(noDeadline)
	}()
	return recv(p.raw, buf, true)
}

// Close releases the socket. Later calls return net.ErrClosed.
func (p *DgramProxy) Close() error {
	if p.state == StateClosed {
		return net.ErrClosed
	}
	p.state = StateClosed
	return p.conn.Close()
}
