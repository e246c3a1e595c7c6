package cmd

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimuret/dgram-proxy/pkg/domain"
	"github.com/mimuret/dgram-proxy/pkg/relay"
)

func parse(t *testing.T, args ...string) *app {
	t.Helper()
	a := newApp()
	c := newRootCommand(a, "test")
	require.NoError(t, c.ParseFlags(args))
	require.NoError(t, a.readConfig(c, nil))
	return a
}

func TestDefaults(t *testing.T) {
	a := parse(t)
	cfg, err := a.relayConfig()
	require.NoError(t, err)
	assert.Equal(t, relay.DefaultConfig(), cfg)
	assert.Equal(t, "system", a.viper.GetString("resolver-type"))
	assert.Equal(t, "fasthttp", a.viper.GetString("reciever-type"))
	assert.Equal(t, domain.DefaultServerName, a.viper.GetString("server-name"))
	assert.Equal(t, domain.DefaultMaxDatagramSize, a.viper.GetInt("max-datagram-size"))

	tlsConfig, err := a.tlsConfig()
	assert.NoError(t, err)
	assert.Nil(t, tlsConfig)
}

func TestRelayConfigFlags(t *testing.T) {
	a := parse(t, "--bind-addr", "127.0.0.1:0", "--context-id", "9")
	cfg, err := a.relayConfig()
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("127.0.0.1:0"), cfg.BindAddr)
	assert.Equal(t, uint64(9), cfg.ContextID)

	a = parse(t, "--bind-addr", "localhost")
	_, err = a.relayConfig()
	assert.Error(t, err)
}

func TestEnv(t *testing.T) {
	t.Setenv("DGRAM_PROXY_UPSTREAM_HOST", "dns.example")
	t.Setenv("DGRAM_PROXY_CONTEXT_ID", "3")
	a := parse(t)
	assert.Equal(t, "dns.example", a.viper.GetString("upstream-host"))
	cfg, err := a.relayConfig()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cfg.ContextID)
}

func TestConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "dgram-proxy.yaml")
	require.NoError(t, os.WriteFile(file, []byte("upstream-port: \"5353\"\nrecip-net: 192.0.2.0/24\n"), 0o600))
	a := parse(t, "--config", file)
	assert.Equal(t, "5353", a.viper.GetString("upstream-port"))
	_, err := a.recIP()
	assert.NoError(t, err)

	a = newApp()
	c := newRootCommand(a, "test")
	require.NoError(t, c.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}))
	assert.Error(t, a.readConfig(c, nil))
}

func TestRecIPInvalid(t *testing.T) {
	a := parse(t, "--recip-net", "192.0.2.0/24,")
	_, err := a.recIP()
	assert.Error(t, err)
}

func TestTLSConfigMissingFiles(t *testing.T) {
	dir := t.TempDir()
	a := parse(t, "--tls-cert", filepath.Join(dir, "cert.pem"), "--tls-key", filepath.Join(dir, "key.pem"))
	_, err := a.tlsConfig()
	assert.Error(t, err)
}

func TestSetLogLevel(t *testing.T) {
	defer log.SetLevel(log.GetLevel())
	assert.NoError(t, SetLogLevel("debug"))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.Error(t, SetLogLevel("loud"))
}

func TestSetLogFormat(t *testing.T) {
	defer log.SetFormatter(log.StandardLogger().Formatter)
	assert.NoError(t, SetLogFormat("text"))
	assert.IsType(t, &log.TextFormatter{}, log.StandardLogger().Formatter)
	assert.NoError(t, SetLogFormat("json"))
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)
	assert.Error(t, SetLogFormat("xml"))
}

func TestLoggerLevel(t *testing.T) {
	testcases := []struct {
		name  string
		level domain.LoggerLevel
	}{
		{"panic", domain.PanicLevel},
		{"error", domain.ErrorLevel},
		{"warning", domain.WarnLevel},
		{"info", domain.InfoLevel},
		{"trace", domain.TraceLevel},
		{"unknown", domain.InfoLevel},
	}
	for i, tc := range testcases {
		assert.Equal(t, tc.level, LoggerLevel(tc.name), "[%d]", i)
	}
}
