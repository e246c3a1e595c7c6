package logger

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"

	dnstap "github.com/dnstap/golang-dnstap"
	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/mimuret/dgram-proxy/pkg/domain"
)

var mlog = log.WithField("Package", "logger")

type Prometheus struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	server     *http.Server

	TotalExchanges       prometheus.Counter
	TotalResponsesByCode *prometheus.CounterVec
	TotalErrorsByType    *prometheus.CounterVec
	TotalBytes           *prometheus.CounterVec
	ExchangeDuration     prometheus.Histogram
	TotalResolvByRcode   *prometheus.CounterVec
}

// NewPrometheus registers the relay metrics on reg. A nil reg means the
// default registry.
func NewPrometheus(reg *prometheus.Registry) *Prometheus {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)
	return &Prometheus{
		registerer: registerer,
		gatherer:   gatherer,
		TotalExchanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "dgram_relay_exchanges_total",
			Help: "The total number of relay exchanges",
		}),
		TotalResponsesByCode: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dgram_relay_responses_total",
			Help: "The total number of responses by http status",
		}, []string{"code"}),
		TotalErrorsByType: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dgram_relay_errors_total",
			Help: "The total number of failed exchanges by proxy error type",
		}, []string{"error"}),
		TotalBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dgram_relay_bytes_total",
			Help: "The total number of relayed datagram bytes by direction",
		}, []string{"direction"}),
		ExchangeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dgram_relay_exchange_duration_seconds",
			Help:    "Time from request to relayed reply",
			Buckets: prometheus.DefBuckets,
		}),
		TotalResolvByRcode: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dgram_resolver_responses_total",
			Help: "The total number of resolver responses by rcode",
		}, []string{"rcode"}),
	}
}

// Start serves /metrics on listen in the background.
func (l *Prometheus) Start(listen string) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(l.gatherer, promhttp.HandlerOpts{}))
	l.server = &http.Server{Handler: mux}
	go func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			mlog.WithError(err).Error("failed to start metrics server")
		}
	}()
	return nil
}

func (l *Prometheus) Close() error {
	if l.server == nil {
		return nil
	}
	return l.server.Close()
}

func (l *Prometheus) Logging(level domain.LoggerLevel, ex *domain.Exchange) {
	l.TotalExchanges.Inc()
	l.TotalBytes.With(prometheus.Labels{"direction": "upstream"}).Add(float64(ex.Sent))
	l.TotalBytes.With(prometheus.Labels{"direction": "downstream"}).Add(float64(ex.Received))
	l.ExchangeDuration.Observe(ex.Duration.Seconds())
	code := http.StatusOK
	if ex.Err != nil {
		code = int(ex.Err.StatusCode())
		l.TotalErrorsByType.With(prometheus.Labels{"error": ex.Err.ProxyStatusType()}).Inc()
	}
	l.TotalResponsesByCode.With(prometheus.Labels{"code": strconv.Itoa(code)}).Inc()
}

func (l *Prometheus) LoggingResolv(level domain.LoggerLevel, mtype dnstap.Message_Type, msg *dns.Msg, server netip.AddrPort) {
	if mtype == dnstap.Message_RESOLVER_RESPONSE {
		rcode := dns.RcodeToString[msg.Rcode]
		l.TotalResolvByRcode.With(prometheus.Labels{"rcode": rcode}).Inc()
	}
}
