package logger

import (
	"encoding/base64"
	"net/netip"

	log "github.com/sirupsen/logrus"

	dnstap "github.com/dnstap/golang-dnstap"
	"github.com/miekg/dns"

	"github.com/mimuret/dgram-proxy/pkg/domain"
)

type Stdout struct {
	level domain.LoggerLevel
	log   log.FieldLogger
}

func NewStdout(level domain.LoggerLevel, l log.FieldLogger) *Stdout {
	if l == nil {
		l = log.StandardLogger()
	}
	return &Stdout{
		level: level,
		log:   l.WithField("Type", "relaylog"),
	}
}

func (l *Stdout) Logging(level domain.LoggerLevel, ex *domain.Exchange) {
	if l.level < level {
		return
	}
	entry := l.log.WithFields(log.Fields{
		"RequestID":  ex.RequestID,
		"RemoteIP":   ex.RemoteIP.String(),
		"RemotePort": ex.RemotePort,
		"Target":     ex.Target.String(),
		"ContextID":  ex.ContextID,
		"Sent":       ex.Sent,
		"Received":   ex.Received,
		"Duration":   ex.Duration.String(),
	})
	if ex.Err != nil {
		entry.WithFields(log.Fields{
			"Status": ex.Err.StatusCode(),
			"Error":  ex.Err.Error(),
		}).Error("relay failed")
		return
	}
	entry.Info("relayed")
}

func (l *Stdout) LoggingResolv(level domain.LoggerLevel, mtype dnstap.Message_Type, msg *dns.Msg, server netip.AddrPort) {
	if l.level < level {
		return
	}
	bs, err := msg.Pack()
	if err != nil {
		return
	}
	l.log.WithFields(log.Fields{
		"Type":          "resolvlog",
		"MessageType":   mtype.String(),
		"ServerAddress": server.String(),
		"Message":       msg.String(),
		"MessageBase64": base64.RawURLEncoding.EncodeToString(bs),
	}).Debug()
}
