package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/mimuret/dgram-proxy/pkg/cmd"
)

var version = "dev"

var mlog = log.WithField("Package", "main")

func init() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)
}

func main() {
	rootCmd := cmd.NewRootCommand(version)
	if err := rootCmd.Execute(); err != nil {
		mlog.WithError(err).Fatal("dgram-proxy exited")
	}
}
