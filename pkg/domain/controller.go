package domain

import (
	"context"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	strXFF           = "X-Forwarded-For"
	strXFP           = "X-Forwarded-Port"
	strProxyStatus   = "Proxy-Status"
	strContentType   = "Content-Type"
	strContextID     = "X-Context-Id"
	relayContentType = "application/octet-stream"
	errorContentType = "text/plain; charset=utf-8"
)

const (
	DefaultServerName      = "dgram-proxy"
	DefaultRelayTimeout    = 2 * time.Second
	DefaultMaxDatagramSize = 65535
)

type ControllerConfig struct {
	// UpstreamHost and UpstreamPort name the fixed relay destination.
	UpstreamHost    string
	UpstreamPort    string
	ServerName      string
	Timeout         time.Duration
	MaxDatagramSize int
}

// Controller relays the datagram carried by one request to the upstream
// and answers with the upstream's first reply datagram.
type Controller struct {
	cfg     ControllerConfig
	dialer  RelayDialer
	loggers []LoggingInterface
	recip   *RecIP
	log     log.FieldLogger
}

func NewController(cfg ControllerConfig, dialer RelayDialer, loggers []LoggingInterface, recip *RecIP, l log.FieldLogger) *Controller {
	if cfg.ServerName == "" {
		cfg.ServerName = DefaultServerName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRelayTimeout
	}
	if cfg.MaxDatagramSize <= 0 {
		cfg.MaxDatagramSize = DefaultMaxDatagramSize
	}
	if recip == nil {
		recip = &RecIP{}
	}
	if l == nil {
		l = log.StandardLogger()
	}
	return &Controller{
		cfg:     cfg,
		dialer:  dialer,
		loggers: loggers,
		recip:   recip,
		log:     l.WithField("Package", "domain"),
	}
}

func (c *Controller) ServeRelay(re RecieverInterface) {
	start := time.Now()
	ex := &Exchange{RequestID: re.RequestID()}
	body, perr := c.relay(re, ex)
	ex.Duration = time.Since(start)
	ex.RemotePort = c.recip.RemotePort(re)
	if perr != nil {
		ex.Err = perr
		ex.RemoteIP = c.recip.RemoteIP(re, true)
		c.logging(ErrorLevel, ex)
		c.writeError(re, perr)
		return
	}
	ex.RemoteIP = c.recip.RemoteIP(re, false)
	c.logging(InfoLevel, ex)
	re.SetHeader(strContentType, relayContentType)
	re.SetHeader(strContextID, strconv.FormatUint(ex.ContextID, 10))
	re.SetStatusCode(200)
	if err := re.SetBody(body); err != nil {
		c.log.WithFields(log.Fields{
			"func":      "ServeRelay",
			"RequestID": ex.RequestID,
			"Error":     err,
		}).Error("failed to write response body")
	}
}

func (c *Controller) relay(re RecieverInterface, ex *Exchange) ([]byte, *ProxyError) {
	data := re.Data()
	if data == nil {
		return nil, ProxyInternalResponse(400)
	}
	if len(data) > c.cfg.MaxDatagramSize {
		return nil, ProxyInternalResponse(413)
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	h, err := c.dialer.DialHostPort(ctx, c.cfg.UpstreamHost, c.cfg.UpstreamPort)
	if err != nil {
		return nil, LiftIOError(c.log, err)
	}
	defer h.Close()
	ex.Target = h.Target()
	ex.ContextID = h.ContextID()

	n, err := h.Send(data)
	if err != nil {
		return nil, ClassifyIOError(c.log, err, KindConnectionWriteTimeout)
	}
	ex.Sent = n

	buf := make([]byte, c.cfg.MaxDatagramSize)
	n, err = h.RecvContext(ctx, buf)
	if err != nil {
		return nil, ClassifyIOError(c.log, err, KindConnectionReadTimeout)
	}
	ex.Received = n
	return buf[:n], nil
}

func (c *Controller) writeError(re RecieverInterface, perr *ProxyError) {
	re.SetHeader(strProxyStatus, perr.ProxyStatus(c.cfg.ServerName))
	re.SetHeader(strContentType, errorContentType)
	re.SetStatusCode(int(perr.StatusCode()))
	re.SetBody([]byte(perr.String()))
}

func (c *Controller) logging(level LoggerLevel, ex *Exchange) {
	for _, logger := range c.loggers {
		logger.Logging(level, ex)
	}
}
