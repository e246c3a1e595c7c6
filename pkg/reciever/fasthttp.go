package reciever

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"

	"github.com/valyala/fasthttp"

	"github.com/mimuret/dgram-proxy/pkg/domain"
)

var (
	strRelayPath = []byte(RelayPath)
	strDgram     = []byte(DgramParam)
	strRequestID = "X-Request-Id"
)

type FastHTTP struct {
	ctr       domain.RelayController
	tlsConfig *tls.Config
	server    *fasthttp.Server
}

func NewFastHTTP(ctr domain.RelayController, tlsConfig *tls.Config) *FastHTTP {
	return &FastHTTP{
		ctr:       ctr,
		tlsConfig: tlsConfig,
	}
}

func (p *FastHTTP) StartServer(serverName string, listen string) error {
	listeners, err := listenTCP(listen, p.tlsConfig)
	if err != nil {
		return err
	}
	p.server = &fasthttp.Server{
		Handler:            p.HandleFastHTTP,
		Name:               serverName,
		MaxRequestBodySize: int(maxBodySize),
	}
	for _, ln := range listeners {
		go func(ln net.Listener) {
			p.server.Serve(ln)
		}(ln)
	}
	return nil
}

func (p *FastHTTP) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	return p.server.ShutdownWithContext(ctx)
}

func (p *FastHTTP) HandleFastHTTP(ctx *fasthttp.RequestCtx) {
	if !bytes.Equal(ctx.Path(), strRelayPath) {
		ctx.Error("Unsupported path", fasthttp.StatusNotFound)
		return
	}
	if !ctx.IsGet() && !ctx.IsPost() {
		ctx.Error("Method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}
	p.ctr.ServeRelay(NewFastHTTPContext(ctx))
}

type FastHTTPContext struct {
	ctx   *fasthttp.RequestCtx
	reqID string
}

func NewFastHTTPContext(ctx *fasthttp.RequestCtx) *FastHTTPContext {
	return &FastHTTPContext{
		ctx:   ctx,
		reqID: requestID(string(ctx.Request.Header.Peek(strRequestID))),
	}
}

func (p *FastHTTPContext) RequestID() string {
	return p.reqID
}

func (p *FastHTTPContext) RemoteIP() net.IP {
	return p.ctx.RemoteIP()
}

func (p *FastHTTPContext) RemotePort() uint16 {
	if addr, ok := p.ctx.RemoteAddr().(*net.TCPAddr); ok {
		return uint16(addr.Port)
	}
	return 0
}

func (p *FastHTTPContext) Header(name string) []byte {
	return p.ctx.Request.Header.Peek(name)
}

func (p *FastHTTPContext) Data() []byte {
	if p.ctx.IsGet() {
		return decodeDgram(p.ctx.QueryArgs().PeekBytes(strDgram))
	}
	if p.ctx.IsPost() {
		body := p.ctx.PostBody()
		if len(body) == 0 {
			return nil
		}
		// the request buffer is reused once the handler returns
		return append([]byte(nil), body...)
	}
	return nil
}

func (c *FastHTTPContext) SetHeader(key, val string) {
	c.ctx.Response.Header.Set(key, val)
}

func (c *FastHTTPContext) SetStatusCode(code int) {
	c.ctx.Response.SetStatusCode(statusCode(code))
}

func (c *FastHTTPContext) SetBody(body []byte) error {
	c.ctx.Response.SetBody(body)
	return nil
}
