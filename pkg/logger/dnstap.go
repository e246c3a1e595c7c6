package logger

import (
	"net/netip"
	"time"

	dnstap "github.com/dnstap/golang-dnstap"
	"github.com/miekg/dns"
	"google.golang.org/protobuf/proto"

	"github.com/mimuret/dgram-proxy/pkg/domain"
)

var dnstapType = dnstap.Dnstap_MESSAGE

var (
	strVersion = []byte("dgram-proxy")
	UDP        = dnstap.SocketProtocol_UDP
)

// DNSTAP writes the resolver's DNS traffic as dnstap RESOLVER_QUERY and
// RESOLVER_RESPONSE frames. Frames are dropped while the output is full.
type DNSTAP struct {
	output   dnstap.Output
	level    domain.LoggerLevel
	identity []byte
}

func NewDNSTAP(level domain.LoggerLevel, output dnstap.Output, identity string) *DNSTAP {
	return &DNSTAP{
		output:   output,
		level:    level,
		identity: []byte(identity),
	}
}

func (l *DNSTAP) LoggingResolv(level domain.LoggerLevel, mtype dnstap.Message_Type, msg *dns.Msg, server netip.AddrPort) {
	if l.level < level {
		return
	}
	bs, err := msg.Pack()
	if err != nil {
		return
	}

	family := dnstap.SocketFamily_INET
	if server.Addr().Is6() && !server.Addr().Is4In6() {
		family = dnstap.SocketFamily_INET6
	}
	now := time.Now()
	timeSec := uint64(now.Unix())
	timeNsec := uint32(now.Nanosecond())
	port := uint32(server.Port())
	tapMsg := &dnstap.Message{
		Type:           &mtype,
		SocketFamily:   &family,
		SocketProtocol: &UDP,
	}
	if server.IsValid() {
		tapMsg.ResponseAddress = server.Addr().Unmap().AsSlice()
		tapMsg.ResponsePort = &port
	}
	if mtype == dnstap.Message_RESOLVER_RESPONSE {
		tapMsg.ResponseTimeSec = &timeSec
		tapMsg.ResponseTimeNsec = &timeNsec
		tapMsg.ResponseMessage = bs
	} else {
		tapMsg.QueryTimeSec = &timeSec
		tapMsg.QueryTimeNsec = &timeNsec
		tapMsg.QueryMessage = bs
	}
	dnstapFrame := &dnstap.Dnstap{
		Type:     &dnstapType,
		Identity: l.identity,
		Version:  strVersion,
		Message:  tapMsg,
	}
	frame, err := proto.Marshal(dnstapFrame)
	if err != nil {
		return
	}
	select {
	case l.output.GetOutputChannel() <- frame:
	default:
	}
}
