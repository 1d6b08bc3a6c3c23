// Command haproxycore runs the reverse-proxy core described by this
// module as a standalone process: one frontend listener relayed to one
// fixed upstream, with header rewriting, cookie persistence, connection
// mode negotiation, and response compression wired end to end.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/jbuchbinder/haproxy/internal/logctx"
	"github.com/jbuchbinder/haproxy/internal/rules"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "haproxycore",
		Short: "A reverse-proxy core exercising header rewriting, cookies, connection modes, and compression",
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	cfg := defaultConfig()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept connections and relay them to the configured upstream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfg)
		},
	}
	cfg.addFlags(cmd.Flags())
	return cmd
}

func runServe(cfg *Config) error {
	level := logrus.InfoLevel
	if cfg.Debug {
		level = logrus.DebugLevel
	}
	log := logctx.NewContext(level, os.Stderr, logctx.Capacities{})

	engine := rules.New()

	srv, err := NewServer(cfg, log, engine)
	if err != nil {
		return fmt.Errorf("haproxycore: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("haproxycore: listen: %w", err)
	}
	defer ln.Close()

	log.Logger.WithFields(logrus.Fields{
		"listen":   cfg.Listen,
		"upstream": cfg.Upstream,
	}).Info("haproxycore: serving")

	return srv.Run(ln)
}
