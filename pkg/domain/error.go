package domain

import (
	"strconv"
	"strings"
)

// Kind is the closed set of RFC 9209 proxy error types.
type Kind uint8

const (
	KindDNSTimeout Kind = iota
	KindDNSError
	KindDestinationNotFound
	KindDestinationUnavailable
	KindDestinationIPProhibited
	KindDestinationIPUnroutable
	KindConnectionRefused
	KindConnectionTerminated
	KindConnectionReadTimeout
	KindConnectionWriteTimeout
	KindConnectionLimitReached
	KindTLSProtocolError
	KindTLSCertificateError
	KindTLSAlertReceived
	KindHTTPRequestError
	KindHTTPRequestDenied
	KindHTTPResponseIncomplete
	KindHTTPResponseHeaderSectionSize
	KindHTTPResponseHeaderSize
	KindHTTPResponseBodySize
	KindHTTPResponseTrailerSectionSize
	KindHTTPResponseTrailerSize
	KindHTTPResponseTransferCoding
	KindHTTPResponseContentCoding
	KindHTTPResponseTimeout
	KindHTTPUpgradeFailed
	KindHTTPProtocolError
	KindProxyInternalResponse
	KindProxyInternalError
	KindProxyConfigurationError
	KindProxyLoopDetected

	kindCount
)

type kindInfo struct {
	name   string
	token  string
	status uint16
}

// kinds is indexed by Kind. status is unused for the payload kinds, whose
// status travels with the error value.
var kinds = [kindCount]kindInfo{
	KindDNSTimeout:                     {"DNSTimeout", "dns_timeout", 504},
	KindDNSError:                       {"DNSError", "dns_error", 502},
	KindDestinationNotFound:            {"DestinationNotFound", "destination_not_found", 500},
	KindDestinationUnavailable:         {"DestinationUnavailable", "destination_unavailable", 503},
	KindDestinationIPProhibited:        {"DestinationIPProhibited", "destination_ip_prohibited", 502},
	KindDestinationIPUnroutable:        {"DestinationIPUnroutable", "destination_ip_unroutable", 502},
	KindConnectionRefused:              {"ConnectionRefused", "connection_refused", 502},
	KindConnectionTerminated:           {"ConnectionTerminated", "connection_terminated", 502},
	KindConnectionReadTimeout:          {"ConnectionReadTimeout", "connection_read_timeout", 504},
	KindConnectionWriteTimeout:         {"ConnectionWriteTimeout", "connection_write_timeout", 504},
	KindConnectionLimitReached:         {"ConnectionLimitReached", "connection_limit_reached", 503},
	KindTLSProtocolError:               {"TLSProtocolError", "tls_protocol_error", 502},
	KindTLSCertificateError:            {"TLSCertificateError", "tls_certificate_error", 502},
	KindTLSAlertReceived:               {"TLSAlertReceived", "tls_alert_received", 502},
	KindHTTPRequestError:               {"HTTPRequestError", "http_request_error", 0},
	KindHTTPRequestDenied:              {"HTTPRequestDenied", "http_request_denied", 403},
	KindHTTPResponseIncomplete:         {"HTTPResponseIncomplete", "http_response_incomplete", 502},
	KindHTTPResponseHeaderSectionSize:  {"HTTPResponseHeaderSectionSize", "http_response_header_section_size", 502},
	KindHTTPResponseHeaderSize:         {"HTTPResponseHeaderSize", "http_response_header_size", 502},
	KindHTTPResponseBodySize:           {"HTTPResponseBodySize", "http_response_body_size", 502},
	KindHTTPResponseTrailerSectionSize: {"HTTPResponseTrailerSectionSize", "http_response_trailer_section_size", 502},
	KindHTTPResponseTrailerSize:        {"HTTPResponseTrailerSize", "http_response_trailer_size", 502},
	KindHTTPResponseTransferCoding:     {"HTTPResponseTransferCoding", "http_response_transfer_coding", 502},
	KindHTTPResponseContentCoding:      {"HTTPResponseContentCoding", "http_response_content_coding", 502},
	KindHTTPResponseTimeout:            {"HTTPResponseTimeout", "http_response_timeout", 504},
	KindHTTPUpgradeFailed:              {"HTTPUpgradeFailed", "http_upgrade_failed", 502},
	KindHTTPProtocolError:              {"HTTPProtocolError", "http_protocol_error", 502},
	KindProxyInternalResponse:          {"ProxyInternalResponse", "proxy_internal_response", 0},
	KindProxyInternalError:             {"ProxyInternalError", "proxy_internal_error", 500},
	KindProxyConfigurationError:        {"ProxyConfigurationError", "proxy_configuration_error", 500},
	KindProxyLoopDetected:              {"ProxyLoopDetected", "proxy_loop_detected", 502},
}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	ks := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		ks = append(ks, k)
	}
	return ks
}

func (k Kind) String() string {
	if k >= kindCount {
		return "Kind(" + strconv.FormatUint(uint64(k), 10) + ")"
	}
	return kinds[k].name
}

// Token is the RFC 9209 error type name, e.g. "dns_timeout". Unknown kinds
// report as proxy_internal_error.
func (k Kind) Token() string {
	if k >= kindCount {
		return kinds[KindProxyInternalError].token
	}
	return kinds[k].token
}

// HasStatus reports whether errors of this kind carry their own status code.
func (k Kind) HasStatus() bool {
	return k == KindHTTPRequestError || k == KindProxyInternalResponse
}

// ProxyError is a classified proxy failure. Status is only meaningful for
// the payload kinds (HTTPRequestError, ProxyInternalResponse). Cause keeps
// the lower level error that was lifted into this value, if any.
type ProxyError struct {
	Kind   Kind
	Status uint16
	Cause  error
}

// NewError returns a ProxyError of the given kind without a cause.
func NewError(kind Kind) *ProxyError {
	return &ProxyError{Kind: kind}
}

// HTTPRequestError relays an upstream response status verbatim.
func HTTPRequestError(status uint16) *ProxyError {
	return &ProxyError{Kind: KindHTTPRequestError, Status: status}
}

// ProxyInternalResponse relays a proxy generated status verbatim.
func ProxyInternalResponse(status uint16) *ProxyError {
	return &ProxyError{Kind: KindProxyInternalResponse, Status: status}
}

// ClassifyStatus maps a proxy error to the HTTP status an intermediary
// should answer with. It never validates the relayed statuses of the
// payload kinds. A nil error or an unknown kind maps to 500.
func ClassifyStatus(e *ProxyError) uint16 {
	switch {
	case e == nil, e.Kind >= kindCount:
		return kinds[KindProxyInternalError].status
	case e.Kind.HasStatus():
		return e.Status
	}
	return kinds[e.Kind].status
}

// StatusCode is ClassifyStatus(e).
func (e *ProxyError) StatusCode() uint16 { return ClassifyStatus(e) }

// String renders the kind name, plus the carried status for payload kinds,
// e.g. "DNSError" or "HTTPRequestError(404)".
func (e *ProxyError) String() string {
	if e.Kind.HasStatus() {
		return e.Kind.String() + "(" + strconv.FormatUint(uint64(e.Status), 10) + ")"
	}
	return e.Kind.String()
}

func (e *ProxyError) Error() string {
	if e.Cause != nil {
		return "dgram-proxy: " + e.String() + ": " + e.Cause.Error()
	}
	return "dgram-proxy: " + e.String()
}

func (e *ProxyError) Unwrap() error { return e.Cause }

// Is matches another ProxyError of the same kind and, for payload kinds,
// the same status. Causes are ignored.
func (e *ProxyError) Is(target error) bool {
	t, ok := target.(*ProxyError)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return !e.Kind.HasStatus() || e.Status == t.Status
}

// ProxyStatusType is the RFC 9209 error token of e.
func (e *ProxyError) ProxyStatusType() string { return e.Kind.Token() }

// ProxyStatus renders a Proxy-Status header member naming proxyName as the
// intermediary that generated e.
func (e *ProxyError) ProxyStatus(proxyName string) string {
	var sb strings.Builder
	sb.WriteString(sfItem(proxyName))
	sb.WriteString("; error=")
	sb.WriteString(e.Kind.Token())
	if e.Kind == KindHTTPRequestError {
		sb.WriteString("; status-code=")
		sb.WriteString(strconv.FormatUint(uint64(e.Status), 10))
	}
	return sb.String()
}

// sfItem renders name as a structured field token when it is one, and as a
// quoted string otherwise.
func sfItem(name string) string {
	if isSFToken(name) {
		return name
	}
	return strconv.Quote(name)
}

func isSFToken(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '*') {
		return false
	}
	for i := 1; i < len(s); i++ {
		c = s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~:/", c) >= 0:
		default:
			return false
		}
	}
	return true
}

// Sentinels for errors.Is checks against the non-payload kinds.
var (
	ErrDNSTimeout                     = NewError(KindDNSTimeout)
	ErrDNSError                       = NewError(KindDNSError)
	ErrDestinationNotFound            = NewError(KindDestinationNotFound)
	ErrDestinationUnavailable         = NewError(KindDestinationUnavailable)
	ErrDestinationIPProhibited        = NewError(KindDestinationIPProhibited)
	ErrDestinationIPUnroutable        = NewError(KindDestinationIPUnroutable)
	ErrConnectionRefused              = NewError(KindConnectionRefused)
	ErrConnectionTerminated           = NewError(KindConnectionTerminated)
	ErrConnectionReadTimeout          = NewError(KindConnectionReadTimeout)
	ErrConnectionWriteTimeout         = NewError(KindConnectionWriteTimeout)
	ErrConnectionLimitReached         = NewError(KindConnectionLimitReached)
	ErrTLSProtocolError               = NewError(KindTLSProtocolError)
	ErrTLSCertificateError            = NewError(KindTLSCertificateError)
	ErrTLSAlertReceived               = NewError(KindTLSAlertReceived)
	ErrHTTPRequestDenied              = NewError(KindHTTPRequestDenied)
	ErrHTTPResponseIncomplete         = NewError(KindHTTPResponseIncomplete)
	ErrHTTPResponseHeaderSectionSize  = NewError(KindHTTPResponseHeaderSectionSize)
	ErrHTTPResponseHeaderSize         = NewError(KindHTTPResponseHeaderSize)
	ErrHTTPResponseBodySize           = NewError(KindHTTPResponseBodySize)
	ErrHTTPResponseTrailerSectionSize = NewError(KindHTTPResponseTrailerSectionSize)
	ErrHTTPResponseTrailerSize        = NewError(KindHTTPResponseTrailerSize)
	ErrHTTPResponseTransferCoding     = NewError(KindHTTPResponseTransferCoding)
	ErrHTTPResponseContentCoding      = NewError(KindHTTPResponseContentCoding)
	ErrHTTPResponseTimeout            = NewError(KindHTTPResponseTimeout)
	ErrHTTPUpgradeFailed              = NewError(KindHTTPUpgradeFailed)
	ErrHTTPProtocolError              = NewError(KindHTTPProtocolError)
	ErrProxyInternalError             = NewError(KindProxyInternalError)
	ErrProxyConfigurationError        = NewError(KindProxyConfigurationError)
	ErrProxyLoopDetected              = NewError(KindProxyLoopDetected)
)
