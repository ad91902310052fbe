package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	cfg "github.com/fabian4/redirect-gateway/internal/config"
	"github.com/fabian4/redirect-gateway/internal/version"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "redirector",
		Short:        "Answer not-found traffic with redirects from a static table",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to YAML config")

	load := func() (*cfg.Config, error) {
		c, err := cfg.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		return c, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newCheckCmd(load),
		newResolveCmd(load),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.Value)
			},
		},
	)
	return root
}

func newLogger(c cfg.LogConfig) *log.Logger {
	l := log.New()
	l.SetOutput(os.Stderr)
	if lvl, err := log.ParseLevel(c.Level); err == nil {
		l.SetLevel(lvl)
	}
	if strings.EqualFold(c.Format, "json") {
		l.SetFormatter(&log.JSONFormatter{})
	} else {
		l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return l
}
