package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mimuret/dgram-proxy/pkg/domain"
)

func NewRootCommand(version string) *cobra.Command {
	return newRootCommand(newApp(), version)
}

func newRootCommand(a *app, version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "dgram-proxy",
		Short:             "relay one datagram per http request to a fixed udp upstream",
		Version:           version,
		PersistentPreRunE: a.readConfig,
		RunE:              a.Serve,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "config file (yaml, toml or json).")

	rootCmd.PersistentFlags().StringP("log-level", "", "info", "log level (default:info)")
	a.viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().StringP("log-format", "", "json", "json|text")
	a.viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.PersistentFlags().StringP("upstream-host", "", "127.0.0.1", "upstream host name or address.")
	a.viper.BindPFlag("upstream-host", rootCmd.PersistentFlags().Lookup("upstream-host"))

	rootCmd.PersistentFlags().StringP("upstream-port", "", "53", "upstream udp port.")
	a.viper.BindPFlag("upstream-port", rootCmd.PersistentFlags().Lookup("upstream-port"))

	rootCmd.PersistentFlags().StringP("bind-addr", "", "0.0.0.0:0", "local address relay sockets are bound to.")
	a.viper.BindPFlag("bind-addr", rootCmd.PersistentFlags().Lookup("bind-addr"))

	rootCmd.PersistentFlags().Uint64P("context-id", "", 0, "context id attached to every relay handle.")
	a.viper.BindPFlag("context-id", rootCmd.PersistentFlags().Lookup("context-id"))

	rootCmd.PersistentFlags().UintP("relay-timeout", "", 2000, "time msec to wait for the upstream reply.")
	a.viper.BindPFlag("relay-timeout", rootCmd.PersistentFlags().Lookup("relay-timeout"))

	rootCmd.PersistentFlags().IntP("max-datagram-size", "", domain.DefaultMaxDatagramSize, "largest datagram relayed in either direction.")
	a.viper.BindPFlag("max-datagram-size", rootCmd.PersistentFlags().Lookup("max-datagram-size"))

	rootCmd.PersistentFlags().StringP("resolver-type", "", "system", "system|traditional")
	a.viper.BindPFlag("resolver-type", rootCmd.PersistentFlags().Lookup("resolver-type"))

	rootCmd.PersistentFlags().StringP("resolver-addr", "", "127.0.0.1:53", "dns server used by the traditional resolver.")
	a.viper.BindPFlag("resolver-addr", rootCmd.PersistentFlags().Lookup("resolver-addr"))

	rootCmd.PersistentFlags().UintP("resolver-timeout", "", 2000, "time msec of resolv timeout.")
	a.viper.BindPFlag("resolver-timeout", rootCmd.PersistentFlags().Lookup("resolver-timeout"))

	rootCmd.PersistentFlags().UintP("resolver-retry", "", 2, "number of resolv retry.")
	a.viper.BindPFlag("resolver-retry", rootCmd.PersistentFlags().Lookup("resolver-retry"))

	rootCmd.PersistentFlags().BoolP("resolver-tcp-only", "", false, "traditional resolver uses tcp only.")
	a.viper.BindPFlag("resolver-tcp-only", rootCmd.PersistentFlags().Lookup("resolver-tcp-only"))

	rootCmd.PersistentFlags().StringP("reciever-type", "", "fasthttp", "fasthttp|nethttp|http3")
	a.viper.BindPFlag("reciever-type", rootCmd.PersistentFlags().Lookup("reciever-type"))

	rootCmd.PersistentFlags().StringP("http-listen", "", ":80", "http listen address and port, comma separated.")
	a.viper.BindPFlag("http-listen", rootCmd.PersistentFlags().Lookup("http-listen"))

	rootCmd.PersistentFlags().StringP("server-name", "", domain.DefaultServerName, "server name, also used in Proxy-Status.")
	a.viper.BindPFlag("server-name", rootCmd.PersistentFlags().Lookup("server-name"))

	rootCmd.PersistentFlags().StringP("tls-cert", "", "", "tls certificate file, enables https.")
	a.viper.BindPFlag("tls-cert", rootCmd.PersistentFlags().Lookup("tls-cert"))

	rootCmd.PersistentFlags().StringP("tls-key", "", "", "tls private key file.")
	a.viper.BindPFlag("tls-key", rootCmd.PersistentFlags().Lookup("tls-key"))

	rootCmd.PersistentFlags().BoolP("recip", "", false, "enable record remote IP.")
	a.viper.BindPFlag("recip", rootCmd.PersistentFlags().Lookup("recip"))

	rootCmd.PersistentFlags().BoolP("recip-error", "", false, "enable record remote IP on error.")
	a.viper.BindPFlag("recip-error", rootCmd.PersistentFlags().Lookup("recip-error"))

	rootCmd.PersistentFlags().StringP("recip-net", "", "", "enable record remote IP include network. comma separated.")
	a.viper.BindPFlag("recip-net", rootCmd.PersistentFlags().Lookup("recip-net"))

	rootCmd.PersistentFlags().BoolP("recip-xff", "", false, "take remote IP and port from X-Forwarded-For/Port.")
	a.viper.BindPFlag("recip-xff", rootCmd.PersistentFlags().Lookup("recip-xff"))

	rootCmd.PersistentFlags().BoolP("dnstap", "", false, "enable dnstap of resolver messages.")
	a.viper.BindPFlag("dnstap", rootCmd.PersistentFlags().Lookup("dnstap"))

	rootCmd.PersistentFlags().StringP("dnstap-socket", "", "/var/run/dnstap.sock", "dnstap socket path.")
	a.viper.BindPFlag("dnstap-socket", rootCmd.PersistentFlags().Lookup("dnstap-socket"))

	rootCmd.PersistentFlags().StringP("metrics-listen", "", "127.0.0.1:9000", "listen prometheus metrics server, empty disables it.")
	a.viper.BindPFlag("metrics-listen", rootCmd.PersistentFlags().Lookup("metrics-listen"))

	return rootCmd
}
