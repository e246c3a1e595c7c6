package reciever

import (
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/mimuret/dgram-proxy/pkg/domain"
)

const (
	RelayPath  = "/relay"
	DgramParam = "dgram"
)

// maxBodySize is one byte over the largest datagram so that oversized
// bodies still reach the controller and are answered with 413.
var maxBodySize int64 = domain.DefaultMaxDatagramSize + 1

func GetReciever(name string, ctr domain.RelayController, tlsConfig *tls.Config) (Reciever, error) {
	switch name {
	case "nethttp":
		return NewNetHTTP(ctr, tlsConfig), nil
	case "fasthttp":
		return NewFastHTTP(ctr, tlsConfig), nil
	case "http3":
		if tlsConfig == nil {
			return nil, fmt.Errorf("reciever http3 requires tls-cert and tls-key")
		}
		return NewHTTP3(ctr, tlsConfig), nil
	}
	return nil, fmt.Errorf("unknown reciever type %q", name)
}

func listenTCP(listen string, tlsConfig *tls.Config) ([]net.Listener, error) {
	var listeners []net.Listener
	for _, addr := range strings.Split(listen, ",") {
		ln, err := net.Listen("tcp", strings.TrimSpace(addr))
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return nil, err
		}
		if tlsConfig != nil {
			ln = tls.NewListener(ln, tlsConfig)
		}
		listeners = append(listeners, ln)
	}
	return listeners, nil
}

func requestID(header string) string {
	if header == "" {
		return uuid.New().String()
	}
	return header
}

// decodeDgram decodes the base64url (unpadded) GET parameter. Padded input
// is accepted too.
func decodeDgram(enc []byte) []byte {
	if len(enc) == 0 {
		return nil
	}
	enc = []byte(strings.TrimRight(string(enc), "="))
	dgram := make([]byte, base64.RawURLEncoding.DecodedLen(len(enc)))
	n, err := base64.RawURLEncoding.Decode(dgram, enc)
	if err != nil {
		return nil
	}
	return dgram[:n]
}

// statusCode keeps relayed statuses inside the range HTTP servers accept.
func statusCode(code int) int {
	if code < 100 || code > 999 {
		return 502
	}
	return code
}
