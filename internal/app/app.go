// Package app is the shared entry point of the node binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/internal/config"
	"github.com/ryandielhenn/zephyrmesh/internal/telemetry"
	"github.com/ryandielhenn/zephyrmesh/pkg/discovery"
	"github.com/ryandielhenn/zephyrmesh/pkg/node"
	"github.com/ryandielhenn/zephyrmesh/pkg/ring"
)

// Set with -ldflags "-X github.com/ryandielhenn/zephyrmesh/internal/app.Version=..."
var (
	Version = "dev"
	GitSHA  = "unknown"
)

// leaseTTL is the etcd registration lease in seconds.
const leaseTTL = 10

// Main runs one node over stdin/stdout and exits the process.
func Main(strategy node.Strategy, defaultTick time.Duration) {
	os.Exit(run(strategy, defaultTick, os.Args[1:]))
}

func run(strategy node.Strategy, defaultTick time.Duration, args []string) int {
	// 1. Config and logger
	cfg, err := config.Load(strategy.Name(), args, defaultTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	base, err := cfg.Logger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer base.Sync()
	log := base.Named(strategy.Name())
	telemetry.SetBuildInfo(Version, GitSHA, strategy.Name())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := &node.Runtime{
		In:       os.Stdin,
		Out:      os.Stdout,
		Strategy: strategy,
		Logger:   log,
		Tick:     cfg.Tick,
		Status:   &node.StatusBoard{},
	}
	if cfg.Fanout > 0 {
		rt.Layout = ring.Layout(cfg.Fanout)
	}

	// 2. Optional etcd topology source
	if len(cfg.EtcdEndpoints) > 0 {
		cli, err := discovery.NewClient(cfg.EtcdEndpoints)
		if err != nil {
			log.Error("etcd client", zap.Error(err))
			return 1
		}
		defer cli.Close()
		log.Info("etcd topology enabled", zap.Strings("endpoints", cfg.EtcdEndpoints), zap.String("prefix", cfg.EtcdPrefix))
		rt.Sources = append(rt.Sources, &discovery.TopologyWatcher{
			Client:   cli,
			Prefix:   cfg.EtcdPrefix,
			LeaseTTL: leaseTTL,
			Logger:   log,
		})
	}

	// 3. Optional admin HTTP
	if cfg.AdminAddr != "" {
		srv := &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           node.NewAdmin(rt.Status).Mux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("admin server stopped", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		log.Info("admin listening", zap.String("addr", cfg.AdminAddr))
	}

	// 4. Run until end of input
	if err := rt.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("interrupted")
			return 0
		}
		log.Error("node failed", zap.Error(err))
		return 1
	}
	return 0
}
