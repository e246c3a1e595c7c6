//go:build unix

package relay

import (
	"errors"
	"net/netip"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var (
	aLongTimeAgo = time.Unix(1, 0)
	noDeadline   = time.Time{}
)

// IsWouldBlock reports whether err means the operation is not possible yet
// and should be retried after a readiness notification.
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINPROGRESS)
}

func sockaddr(addr netip.AddrPort) unix.Sockaddr {
	if addr.Addr().Is4() {
		return &unix.SockaddrInet4{Port: int(addr.Port()), Addr: addr.Addr().As4()}
	}
	return &unix.SockaddrInet6{Port: int(addr.Port()), Addr: addr.Addr().As16()}
}

// connect is replaced in tests to simulate a would-block association.
var connect = connectRaw

func connectRaw(raw syscall.RawConn, target netip.AddrPort) error {
	var opErr error
	err := raw.Control(func(fd uintptr) {
		opErr = unix.Connect(int(fd), sockaddr(target))
	})
	if err != nil {
		return err
	}
	if opErr != nil {
		return os.NewSyscallError("connect", opErr)
	}
	return nil
}

func send(raw syscall.RawConn, buf []byte) (int, error) {
	var (
		n     int
		opErr error
	)
	err := raw.Write(func(fd uintptr) bool {
		n, opErr = unix.Write(int(fd), buf)
		return true
	})
	if err != nil {
		return 0, err
	}
	if opErr != nil {
		return 0, os.NewSyscallError("send", opErr)
	}
	return n, nil
}

// recv reads one datagram. With wait set, a would-block result parks the
// goroutine on the netpoller until the socket is readable or the read
// deadline passes.
func recv(raw syscall.RawConn, buf []byte, wait bool) (int, error) {
	var (
		n     int
		opErr error
	)
	err := raw.Read(func(fd uintptr) bool {
		n, opErr = unix.Read(int(fd), buf)
		return !wait || !IsWouldBlock(opErr)
	})
	if err != nil {
		return 0, err
	}
	if opErr != nil {
		return 0, os.NewSyscallError("recv", opErr)
	}
	return n, nil
}
