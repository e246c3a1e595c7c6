package reciever

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/mimuret/dgram-proxy/pkg/domain"
)

type NetHTTP struct {
	ctr        domain.RelayController
	tlsConfig  *tls.Config
	serverName string
	server     *http.Server
}

func NewNetHTTP(ctr domain.RelayController, tlsConfig *tls.Config) *NetHTTP {
	return &NetHTTP{
		ctr:       ctr,
		tlsConfig: tlsConfig,
	}
}

func (p *NetHTTP) StartServer(serverName string, listen string) error {
	listeners, err := listenTCP(listen, p.tlsConfig)
	if err != nil {
		return err
	}
	p.serverName = serverName
	p.server = &http.Server{Handler: p}
	for _, ln := range listeners {
		go func(ln net.Listener) {
			p.server.Serve(ln)
		}(ln)
	}
	return nil
}

func (p *NetHTTP) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	return p.server.Shutdown(ctx)
}

func (p *NetHTTP) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	serveHTTP(p.ctr, p.serverName, w, req)
}

// serveHTTP is shared by the net/http and HTTP/3 front ends.
func serveHTTP(ctr domain.RelayController, serverName string, w http.ResponseWriter, req *http.Request) {
	if serverName != "" {
		w.Header().Set("Server", serverName)
	}
	if req.URL.Path != RelayPath {
		http.Error(w, "Unsupported path", http.StatusNotFound)
		return
	}
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctr.ServeRelay(NewNetHTTPContext(w, req))
}

type NetHTTPContext struct {
	w     http.ResponseWriter
	req   *http.Request
	reqID string
}

func NewNetHTTPContext(w http.ResponseWriter, req *http.Request) *NetHTTPContext {
	return &NetHTTPContext{
		w:     w,
		req:   req,
		reqID: requestID(req.Header.Get("X-Request-Id")),
	}
}

func (c *NetHTTPContext) RequestID() string {
	return c.reqID
}

func (c *NetHTTPContext) RemoteIP() net.IP {
	addr, _, _ := net.SplitHostPort(c.req.RemoteAddr)
	return net.ParseIP(addr)
}

func (c *NetHTTPContext) RemotePort() uint16 {
	_, portStr, _ := net.SplitHostPort(c.req.RemoteAddr)
	port, _ := strconv.ParseUint(portStr, 10, 16)
	return uint16(port)
}

func (c *NetHTTPContext) Header(name string) []byte {
	val := c.req.Header.Get(name)
	if val == "" {
		return nil
	}
	return []byte(val)
}

func (c *NetHTTPContext) Data() []byte {
	switch c.req.Method {
	case http.MethodGet:
		return decodeDgram([]byte(c.req.URL.Query().Get(DgramParam)))
	case http.MethodPost:
		if c.req.Body == nil {
			return nil
		}
		defer c.req.Body.Close()
		dgram, err := io.ReadAll(io.LimitReader(c.req.Body, maxBodySize))
		if err != nil || len(dgram) == 0 {
			return nil
		}
		return dgram
	}
	return nil
}

func (c *NetHTTPContext) SetHeader(key, val string) {
	c.w.Header().Set(key, val)
}

func (c *NetHTTPContext) SetStatusCode(code int) {
	c.w.WriteHeader(statusCode(code))
}

func (c *NetHTTPContext) SetBody(body []byte) error {
	_, err := c.w.Write(body)
	return err
}
