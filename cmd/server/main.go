package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lrnzgll/subprime-shutdown/internal/config"
	"github.com/lrnzgll/subprime-shutdown/internal/hub"
	"github.com/lrnzgll/subprime-shutdown/internal/logging"
	"github.com/lrnzgll/subprime-shutdown/internal/room"
	"github.com/lrnzgll/subprime-shutdown/internal/server"
	"github.com/lrnzgll/subprime-shutdown/internal/tlsutil"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := server.Options{
		Addr:         cfg.Addr(),
		AdminAddr:    cfg.AdminAddr,
		PollInterval: cfg.PollInterval,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       log,
	}
	if cfg.TLSEnabled() {
		tlsCfg, err := tlsutil.Config(tlsutil.Options{
			CertFile:     cfg.TLSCertFile,
			KeyFile:      cfg.TLSKeyFile,
			AutocertHost: cfg.TLSAutocertHost,
			AutocertDir:  cfg.TLSAutocertDir,
		})
		if err != nil {
			return err
		}
		opts.TLS = tlsCfg
	}

	// The hub outlives the signal context so Serve can shut it down in order.
	h := hub.NewHub(context.Background(), hub.Options{
		ReapInterval: cfg.ReapInterval,
		RoomIdleTTL:  cfg.RoomIdleTTL,
		Room:         room.Options{PollInterval: cfg.PollInterval},
		Logger:       log,
	})

	return server.New(h, opts).Run(ctx)
}
