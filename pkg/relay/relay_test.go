package relay_test

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimuret/dgram-proxy/pkg/domain"
	"github.com/mimuret/dgram-proxy/pkg/relay"
)

var loopback = netip.MustParseAddr("127.0.0.1")

type fakeResolver struct {
	addrs   []netip.Addr
	err     error
	network string
	host    string
}

func (f *fakeResolver) LookupNetIP(_ context.Context, network, host string) ([]netip.Addr, error) {
	f.network = network
	f.host = host
	return f.addrs, f.err
}

func loopbackConfig(port uint16) relay.Config {
	cfg := relay.DefaultConfig()
	cfg.BindAddr = netip.AddrPortFrom(loopback, port)
	return cfg
}

// freeLoopbackPort returns a loopback UDP port that was free a moment ago.
func freeLoopbackPort(t *testing.T) uint16 {
	t.Helper()
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := c.LocalAddr().(*net.UDPAddr).AddrPort().Port()
	require.NoError(t, c.Close())
	return port
}

func listenPeer(t *testing.T) *net.UDPConn {
	t.Helper()
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func peerAddr(c *net.UDPConn) netip.AddrPort {
	addr := c.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}

func TestDefaultConfig(t *testing.T) {
	cfg := relay.DefaultConfig()
	assert.Equal(t, netip.MustParseAddrPort("0.0.0.0:0"), cfg.BindAddr)
	assert.Equal(t, uint64(0), cfg.ContextID)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "PENDING", relay.StatePending.String())
	assert.Equal(t, "CONNECTED", relay.StateConnected.String())
	assert.Equal(t, "CLOSED", relay.StateClosed.String())
	assert.Equal(t, "UNKNOWN", relay.State(42).String())
}

func TestWithHostPortInvalidPort(t *testing.T) {
	r := &fakeResolver{addrs: []netip.Addr{loopback}}
	d := relay.NewDialer(relay.DefaultConfig(), r, nil)
	for i, port := range []string{"abc", "0", "", "-1", "65536", "80a", " 80"} {
		p, err := d.WithHostPort(context.Background(), "localhost", port)
		assert.Nil(t, p, "[%d] %q", i, port)
		assert.ErrorIs(t, err, domain.ErrDestinationNotFound, "[%d] %q", i, port)
	}
	assert.Empty(t, r.host, "resolver must not be asked for an invalid port")
}

func TestWithHostPortUnresolvable(t *testing.T) {
	logger, hook := test.NewNullLogger()
	d := relay.NewDialer(relay.DefaultConfig(), nil, logger)
	p, err := d.WithHostPort(context.Background(), "name.that.cannot.resolve.invalid", "9999")
	assert.Nil(t, p)
	assert.ErrorIs(t, err, domain.ErrDNSError)
	if assert.NotNil(t, hook.LastEntry()) {
		assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	}
}

func TestWithHostPortResolverFailures(t *testing.T) {
	testcases := []struct {
		resolver *fakeResolver
	}{
		{&fakeResolver{err: errors.New("i/o timeout")}},
		{&fakeResolver{err: &net.DNSError{Err: "no such host", Name: "example.invalid", IsNotFound: true}}},
		{&fakeResolver{}},
	}
	for i, tc := range testcases {
		logger, hook := test.NewNullLogger()
		d := relay.NewDialer(relay.DefaultConfig(), tc.resolver, logger)
		p, err := d.WithHostPort(context.Background(), "example.invalid", "443")
		assert.Nil(t, p, "[%d]", i)
		assert.ErrorIs(t, err, domain.ErrDNSError, "[%d]", i)
		var perr *domain.ProxyError
		if assert.ErrorAs(t, err, &perr, "[%d]", i) {
			assert.Equal(t, uint16(502), perr.StatusCode(), "[%d]", i)
		}
		assert.Len(t, hook.AllEntries(), 1, "[%d] one diagnostic record", i)
	}
}

func TestWithHostPortUsesFirstAddress(t *testing.T) {
	r := &fakeResolver{addrs: []netip.Addr{loopback, netip.MustParseAddr("192.0.2.1")}}
	d := relay.NewDialer(relay.DefaultConfig(), r, nil)
	p, err := d.WithHostPort(context.Background(), "localhost", "53")
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "ip4", r.network)
	assert.Equal(t, "localhost", r.host)
	assert.Equal(t, netip.AddrPortFrom(loopback, 53), p.Target())
	assert.Equal(t, relay.StateConnected, p.State())
}

func TestWithHostPortLocalhost(t *testing.T) {
	peer := listenPeer(t)
	d := relay.NewDialer(relay.DefaultConfig(), nil, nil)
	port := peerAddr(peer).Port()
	p, err := d.WithHostPort(context.Background(), "localhost", netPort(port))
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, loopback, p.Target().Addr())
	assert.Equal(t, port, p.Target().Port())
}

func netPort(p uint16) string {
	return strconv.FormatUint(uint64(p), 10)
}

func TestWithSockAddr(t *testing.T) {
	peer := listenPeer(t)
	cfg := relay.DefaultConfig()
	cfg.ContextID = 7
	d := relay.NewDialer(cfg, nil, nil)
	p, err := d.WithSockAddr(peerAddr(peer))
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, uint64(7), p.ContextID())
	assert.Equal(t, peerAddr(peer), p.Target())
	assert.Equal(t, relay.StateConnected, p.State())
	assert.True(t, p.LocalAddr().Addr().Is4())
	assert.NotZero(t, p.LocalAddr().Port())
}

func TestWithAddrPortMappedAddress(t *testing.T) {
	peer := listenPeer(t)
	d := relay.NewDialer(relay.DefaultConfig(), nil, nil)
	mapped := netip.AddrFrom16(loopback.As16())
	p, err := d.WithAddrPort(mapped, peerAddr(peer).Port())
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, peerAddr(peer), p.Target())
}

func TestWithSockAddrFamilyMismatch(t *testing.T) {
	logger, hook := test.NewNullLogger()
	d := relay.NewDialer(relay.DefaultConfig(), nil, logger)
	p, err := d.WithSockAddr(netip.MustParseAddrPort("[::1]:9999"))
	assert.Nil(t, p)
	assert.ErrorIs(t, err, domain.ErrConnectionRefused)
	if assert.NotNil(t, hook.LastEntry()) {
		assert.Equal(t, "connect() failed", hook.LastEntry().Message)
	}
}

func TestWithSockAddrInvalid(t *testing.T) {
	logger, hook := test.NewNullLogger()
	d := relay.NewDialer(relay.DefaultConfig(), nil, logger)
	p, err := d.WithSockAddr(netip.AddrPort{})
	assert.Nil(t, p)
	assert.ErrorIs(t, err, domain.ErrProxyInternalError)
	assert.Len(t, hook.AllEntries(), 1)
}

func TestWithSockAddrBindFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	// 192.0.2.0/24 is never assigned to a local interface.
	cfg := relay.DefaultConfig()
	cfg.BindAddr = netip.MustParseAddrPort("192.0.2.1:0")
	d := relay.NewDialer(cfg, nil, logger)
	p, err := d.WithSockAddr(netip.AddrPortFrom(loopback, 9))
	assert.Nil(t, p)
	assert.ErrorIs(t, err, domain.ErrProxyInternalError)
	var perr *domain.ProxyError
	if assert.ErrorAs(t, err, &perr) {
		assert.NotNil(t, perr.Cause)
	}
	if assert.NotNil(t, hook.LastEntry()) {
		assert.Equal(t, "io error", hook.LastEntry().Message)
	}
}

func TestRecvWouldBlock(t *testing.T) {
	peer := listenPeer(t)
	d := relay.NewDialer(relay.DefaultConfig(), nil, nil)
	p, err := d.WithSockAddr(peerAddr(peer))
	require.NoError(t, err)
	defer p.Close()

	buf := make([]byte, 16)
	start := time.Now()
	n, err := p.Recv(buf)
	assert.Zero(t, n)
	assert.True(t, relay.IsWouldBlock(err), "unexpected error: %v", err)
	assert.Less(t, time.Since(start), time.Second)
}

// A UDP connect has no handshake, so construction succeeds with nothing
// listening. Whether a later receive reports ECONNREFUSED depends on the
// platform delivering the ICMP port unreachable to the socket; Linux does,
// other systems may only ever report would-block.
func TestNothingListening(t *testing.T) {
	port := freeLoopbackPort(t)
	d := relay.NewDialer(relay.DefaultConfig(), nil, nil)
	p, err := d.WithSockAddr(netip.AddrPortFrom(loopback, port))
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Send([]byte("ping"))
	if err != nil {
		assert.ErrorIs(t, err, syscall.ECONNREFUSED)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = p.RecvContext(ctx, make([]byte, 16))
	require.Error(t, err)
	assert.True(t,
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, os.ErrDeadlineExceeded),
		"unexpected error: %v", err)
}

// handlePair returns two handles connected to each other. b is bound on an
// ephemeral port first; a takes a port that was free a moment ago and is
// retried if something else grabbed it in between.
func handlePair(t *testing.T) (*relay.DgramProxy, *relay.DgramProxy) {
	t.Helper()
	for attempt := 0; attempt < 10; attempt++ {
		portA := freeLoopbackPort(t)
		b, err := relay.NewDialer(loopbackConfig(0), nil, nil).WithAddrPort(loopback, portA)
		require.NoError(t, err)
		a, err := relay.NewDialer(loopbackConfig(portA), nil, nil).WithAddrPort(loopback, b.LocalAddr().Port())
		if err == nil {
			t.Cleanup(func() {
				a.Close()
				b.Close()
			})
			return a, b
		}
		b.Close()
	}
	t.Fatal("no free loopback port for the handle pair")
	return nil, nil
}

func TestRoundTripBetweenHandles(t *testing.T) {
	a, b := handlePair(t)

	testcases := [][]byte{
		[]byte("hello"),
		{0x00, 0xff, 0x00, 0x01},
		make([]byte, 1200),
	}
	for i, payload := range testcases {
		n, err := a.Send(payload)
		require.NoError(t, err, "[%d]", i)
		assert.Equal(t, len(payload), n, "[%d]", i)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		buf := make([]byte, 2048)
		n, err = b.RecvContext(ctx, buf)
		cancel()
		require.NoError(t, err, "[%d]", i)
		assert.Equal(t, payload, buf[:n], "[%d]", i)
	}

	_, err := b.Send([]byte("pong"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	buf := make([]byte, 16)
	n, err := a.RecvContext(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))
}

func TestRecvTruncates(t *testing.T) {
	peer := listenPeer(t)
	p, err := relay.NewDialer(relay.DefaultConfig(), nil, nil).WithSockAddr(peerAddr(peer))
	require.NoError(t, err)
	defer p.Close()

	_, err = peer.WriteToUDPAddrPort([]byte("0123456789"), netip.AddrPortFrom(loopback, p.LocalAddr().Port()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	buf := make([]byte, 4)
	n, err := p.RecvContext(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(buf[:n]))
}

func TestRecvContextDeadline(t *testing.T) {
	peer := listenPeer(t)
	p, err := relay.NewDialer(relay.DefaultConfig(), nil, nil).WithSockAddr(peerAddr(peer))
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.RecvContext(ctx, make([]byte, 16))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestRecvContextCancel(t *testing.T) {
	peer := listenPeer(t)
	p, err := relay.NewDialer(relay.DefaultConfig(), nil, nil).WithSockAddr(peerAddr(peer))
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err = p.RecvContext(ctx, make([]byte, 16))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)

	_, err = p.RecvContext(ctx, make([]byte, 16))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecvContextCancelRace(t *testing.T) {
	peer := listenPeer(t)
	p, err := relay.NewDialer(relay.DefaultConfig(), nil, nil).WithSockAddr(peerAddr(peer))
	require.NoError(t, err)
	defer p.Close()
	local := netip.AddrPortFrom(loopback, p.LocalAddr().Port())

	buf := make([]byte, 16)
	for i := 0; i < 2000; i++ {
		_, err := peer.WriteToUDPAddrPort([]byte("x"), local)
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		go cancel()
		p.RecvContext(ctx, buf)

		_, err = peer.WriteToUDPAddrPort([]byte("y"), local)
		require.NoError(t, err)
		_, err = p.RecvContext(context.Background(), buf)
		require.NoError(t, err, "[%d] cancelled receive left a deadline behind", i)
		for {
			if _, err := p.Recv(buf); err != nil {
				require.True(t, relay.IsWouldBlock(err), "[%d] unexpected error: %v", i, err)
				break
			}
		}
	}
}

func TestClose(t *testing.T) {
	peer := listenPeer(t)
	p, err := relay.NewDialer(relay.DefaultConfig(), nil, nil).WithSockAddr(peerAddr(peer))
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.Equal(t, relay.StateClosed, p.State())
	assert.ErrorIs(t, p.Close(), net.ErrClosed)

	_, err = p.Send([]byte("x"))
	assert.ErrorIs(t, err, net.ErrClosed)
	_, err = p.Recv(make([]byte, 1))
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.ErrorIs(t, p.Connect(), net.ErrClosed)
}

func TestDialHostPort(t *testing.T) {
	peer := listenPeer(t)
	r := &fakeResolver{addrs: []netip.Addr{loopback}}
	d := relay.NewDialer(relay.DefaultConfig(), r, nil)

	var _ domain.RelayDialer = d
	ri, err := d.DialHostPort(context.Background(), "upstream", netPort(peerAddr(peer).Port()))
	require.NoError(t, err)
	defer ri.Close()
	assert.Equal(t, peerAddr(peer), ri.Target())

	ri, err = d.DialHostPort(context.Background(), "upstream", "x")
	assert.Nil(t, ri)
	assert.ErrorIs(t, err, domain.ErrDestinationNotFound)
}
