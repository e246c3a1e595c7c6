package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	dnstap "github.com/dnstap/golang-dnstap"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mimuret/dgram-proxy/pkg/domain"
	"github.com/mimuret/dgram-proxy/pkg/logger"
	"github.com/mimuret/dgram-proxy/pkg/reciever"
	"github.com/mimuret/dgram-proxy/pkg/relay"
	"github.com/mimuret/dgram-proxy/pkg/resolver"
)

var mlog = log.WithField("Package", "cmd")

type app struct {
	viper      *viper.Viper
	configFile string
}

func newApp() *app {
	v := viper.New()
	v.SetEnvPrefix("DGRAM_PROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return &app{viper: v}
}

func (a *app) readConfig(_ *cobra.Command, _ []string) error {
	if a.configFile == "" {
		return nil
	}
	a.viper.SetConfigFile(a.configFile)
	if err := a.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("can't read config file %s: %w", a.configFile, err)
	}
	return nil
}

func (a *app) Serve(cb *cobra.Command, args []string) error {
	loglevel := a.viper.GetString("log-level")
	if err := SetLogLevel(loglevel); err != nil {
		return err
	}
	if err := SetLogFormat(a.viper.GetString("log-format")); err != nil {
		return err
	}
	mlog.WithFields(log.Fields{
		"func":      "Serve",
		"log-level": loglevel,
	}).Info("set log-level")

	// logger setting
	level := LoggerLevel(loglevel)
	stdlogger := logger.NewStdout(level, log.StandardLogger())
	loggers := []domain.LoggingInterface{stdlogger}
	resolvLoggers := []domain.ResolvLoggingInterface{stdlogger}

	if a.viper.GetBool("dnstap") {
		output, err := a.dnstapOutput()
		if err != nil {
			return err
		}
		go output.RunOutputLoop()
		defer output.Close()
		resolvLoggers = append(resolvLoggers, logger.NewDNSTAP(domain.TraceLevel, output, a.viper.GetString("server-name")))
	}

	// metrics
	if listen := a.viper.GetString("metrics-listen"); listen != "" {
		metricsLogger := logger.NewPrometheus(nil)
		if err := metricsLogger.Start(listen); err != nil {
			return fmt.Errorf("can't start metrics server: %w", err)
		}
		defer metricsLogger.Close()
		loggers = append(loggers, metricsLogger)
		resolvLoggers = append(resolvLoggers, metricsLogger)
	}

	// resolver and relay dialer
	resolvType := a.viper.GetString("resolver-type")
	ri := resolver.GetResolver(resolvType, resolver.Options{
		Addr:        a.viper.GetString("resolver-addr"),
		Retry:       a.viper.GetUint("resolver-retry"),
		TimeoutMsec: a.viper.GetUint("resolver-timeout"),
		TCPOnly:     a.viper.GetBool("resolver-tcp-only"),
		Loggers:     resolvLoggers,
	})
	if ri == nil {
		return fmt.Errorf("unknown resolver type %q", resolvType)
	}
	relayConfig, err := a.relayConfig()
	if err != nil {
		return err
	}
	dialer := relay.NewDialer(relayConfig, ri, log.StandardLogger())

	// controller
	recip, err := a.recIP()
	if err != nil {
		return fmt.Errorf("invalid recip-net: %w", err)
	}
	serverName := a.viper.GetString("server-name")
	ctr := domain.NewController(domain.ControllerConfig{
		UpstreamHost:    a.viper.GetString("upstream-host"),
		UpstreamPort:    a.viper.GetString("upstream-port"),
		ServerName:      serverName,
		Timeout:         time.Duration(a.viper.GetUint("relay-timeout")) * time.Millisecond,
		MaxDatagramSize: a.viper.GetInt("max-datagram-size"),
	}, dialer, loggers, recip, log.StandardLogger())

	// http server
	tlsConfig, err := a.tlsConfig()
	if err != nil {
		return err
	}
	rec, err := reciever.GetReciever(a.viper.GetString("reciever-type"), ctr, tlsConfig)
	if err != nil {
		return err
	}
	listen := a.viper.GetString("http-listen")
	if err := rec.StartServer(serverName, listen); err != nil {
		return fmt.Errorf("can't start reciever: %w", err)
	}
	mlog.WithFields(log.Fields{
		"func":   "Serve",
		"listen": listen,
		"target": net.JoinHostPort(a.viper.GetString("upstream-host"), a.viper.GetString("upstream-port")),
	}).Info("start server")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	sig := <-sigCh
	mlog.WithField("signal", sig.String()).Info("shutdown server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return rec.Shutdown(ctx)
}

func (a *app) relayConfig() (relay.Config, error) {
	cfg := relay.DefaultConfig()
	if s := a.viper.GetString("bind-addr"); s != "" {
		bindAddr, err := netip.ParseAddrPort(s)
		if err != nil {
			return cfg, fmt.Errorf("invalid bind-addr %q: %w", s, err)
		}
		cfg.BindAddr = bindAddr
	}
	cfg.ContextID = a.viper.GetUint64("context-id")
	return cfg, nil
}

func (a *app) recIP() (*domain.RecIP, error) {
	return domain.NewRecIP(
		a.viper.GetBool("recip-xff"),
		a.viper.GetBool("recip"),
		a.viper.GetBool("recip-error"),
		a.viper.GetString("recip-net"),
	)
}

func (a *app) tlsConfig() (*tls.Config, error) {
	certFile := a.viper.GetString("tls-cert")
	keyFile := a.viper.GetString("tls-key")
	if certFile == "" && keyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("can't load tls key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (a *app) dnstapOutput() (*dnstap.FrameStreamSockOutput, error) {
	sockFile := a.viper.GetString("dnstap-socket")
	output, err := dnstap.NewFrameStreamSockOutput(&net.UnixAddr{Name: sockFile, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("can't create dnstap output %s: %w", sockFile, err)
	}
	output.SetLogger(log.StandardLogger())
	return output, nil
}

func SetLogLevel(logLevel string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}

func SetLogFormat(format string) error {
	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// LoggerLevel maps a logrus level name to the level exchange sinks filter
// on. Unknown names mean info.
func LoggerLevel(logLevel string) domain.LoggerLevel {
	switch logLevel {
	case "panic":
		return domain.PanicLevel
	case "fatal":
		return domain.FatalLevel
	case "error":
		return domain.ErrorLevel
	case "warn", "warning":
		return domain.WarnLevel
	case "debug":
		return domain.DebugLevel
	case "trace":
		return domain.TraceLevel
	}
	return domain.InfoLevel
}
