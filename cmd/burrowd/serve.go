package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dqx0.com/go/burrow/handlers"
	"dqx0.com/go/burrow/httpx"
	"dqx0.com/go/burrow/internal/config"
	"dqx0.com/go/burrow/internal/obs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	Long: `Start the server described by --config. Without configured endpoints
it listens on --listen; with --root and no configured handlers it serves
that directory.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("config", "c", "", "configuration file (TOML, YAML or JSON)")
	serveCmd.Flags().String("listen", ":8080", "address used when no endpoint is configured")
	serveCmd.Flags().String("root", "", "directory served when no handler is configured")
	serveCmd.Flags().String("log-level", "info", "debug, info, warn, error or off")
}

func runServe(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	opts, err := config.Load(path)
	if err != nil {
		return err
	}
	v := opts.Viper()
	for _, name := range []string{"log-level", "listen", "root"} {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	logger := obs.NewLogger(os.Stderr, obs.LevelFromString(opts.String("log-level", "info")))
	if f := opts.File(); f != "" {
		logger.Info("configuration loaded", "file", f)
	}

	srv, err := buildServer(opts, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	stop()
	logger.Info("shutting down")

	timeout := time.Duration(opts.Int("shutdown-timeout", 10000)) * time.Millisecond
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("requests still running after %s", timeout)
		}
		return err
	}
	return nil
}

// buildServer configures a server from opts and fills in the listen and
// root fallbacks.
func buildServer(opts *config.Options, logger *slog.Logger) (*httpx.Server, error) {
	mimes, err := opts.MimeTable()
	if err != nil {
		return nil, err
	}
	srv := &httpx.Server{Logger: logger, Mimes: mimes}
	reg := httpx.NewRegistry()
	handlers.Register(reg)
	if faults := srv.Configure(opts, reg); len(faults) > 0 {
		logger.Warn("configuration faults", "count", len(faults))
	}

	if len(opts.Strings("endpoints")) == 0 {
		host, port, err := net.SplitHostPort(opts.String("listen", ":8080"))
		if err != nil {
			return nil, fmt.Errorf("listen: %w", err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("listen: bad port %q", port)
		}
		if err := srv.AddEndPoint(&httpx.PlainEndPoint{Name: "default", Host: host, Port: p}); err != nil {
			return nil, err
		}
	}
	if root := opts.String("root", ""); root != "" && len(opts.Strings("handlers")) == 0 {
		if err := srv.Handle(httpx.NewRule("/"), "files", &handlers.File{Root: root, Listing: true}); err != nil {
			return nil, err
		}
	}
	return srv, nil
}
