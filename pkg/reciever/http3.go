package reciever

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strings"

	"github.com/quic-go/quic-go/http3"
	log "github.com/sirupsen/logrus"

	"github.com/mimuret/dgram-proxy/pkg/domain"
)

// HTTP3 serves the relay endpoint over QUIC. Requests are handled by the
// same net/http code path as NetHTTP.
type HTTP3 struct {
	ctr        domain.RelayController
	tlsConfig  *tls.Config
	serverName string
	server     *http3.Server
	conns      []net.PacketConn
}

func NewHTTP3(ctr domain.RelayController, tlsConfig *tls.Config) *HTTP3 {
	return &HTTP3{
		ctr:       ctr,
		tlsConfig: tlsConfig,
	}
}

func (p *HTTP3) StartServer(serverName string, listen string) error {
	var conns []net.PacketConn
	for _, addr := range strings.Split(listen, ",") {
		conn, err := net.ListenPacket("udp", strings.TrimSpace(addr))
		if err != nil {
			for _, c := range conns {
				c.Close()
			}
			return err
		}
		conns = append(conns, conn)
	}
	p.serverName = serverName
	p.conns = conns
	p.server = &http3.Server{
		Handler:   p,
		TLSConfig: http3.ConfigureTLSConfig(p.tlsConfig),
	}
	for _, conn := range conns {
		go func(conn net.PacketConn) {
			if err := p.server.Serve(conn); err != nil && err != http.ErrServerClosed {
				log.WithField("Package", "reciever").WithError(err).Warn("http3 server stopped")
			}
		}(conn)
	}
	return nil
}

func (p *HTTP3) Shutdown(_ context.Context) error {
	if p.server == nil {
		return nil
	}
	err := p.server.Close()
	for _, conn := range p.conns {
		conn.Close()
	}
	return err
}

func (p *HTTP3) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	serveHTTP(p.ctr, p.serverName, w, req)
}
