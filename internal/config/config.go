// Package config loads node settings from flags with environment defaults
// and builds the process logger.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Default round intervals. Gossip rounds are cheap and frequent; retry
// rounds leave room for in-flight acknowledgments.
const (
	DefaultGossipTick    = 50 * time.Millisecond
	DefaultBroadcastTick = 300 * time.Millisecond
	DefaultEtcdPrefix    = "/zephyrmesh"
)

// Config holds everything a node binary needs besides stdin/stdout.
type Config struct {
	Tick          time.Duration
	LogLevel      string
	LogDev        bool
	AdminAddr     string
	EtcdEndpoints []string
	EtcdPrefix    string
	Fanout        int
}

// Load parses args (without the program name) on top of environment
// defaults. defaultTick is the strategy's round interval.
func Load(name string, args []string, defaultTick time.Duration) (Config, error) {
	var c Config
	tick, err := envDuration("TICK_INTERVAL", defaultTick)
	if err != nil {
		return c, err
	}
	fanout, err := envInt("FANOUT", 0)
	if err != nil {
		return c, err
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.DurationVar(&c.Tick, "tick", tick, "round interval (env TICK_INTERVAL)")
	fs.StringVar(&c.LogLevel, "log-level", envString("LOG_LEVEL", "info"), "debug|info|warn|error (env LOG_LEVEL)")
	fs.BoolVar(&c.LogDev, "log-dev", os.Getenv("LOG_DEV") == "true", "human-readable logs (env LOG_DEV)")
	fs.StringVar(&c.AdminAddr, "admin-addr", os.Getenv("ADMIN_ADDR"), "serve /healthz, /info and /metrics on this address (env ADMIN_ADDR)")
	endpoints := fs.String("etcd-endpoints", os.Getenv("ETCD_ENDPOINTS"), "comma-separated etcd endpoints for topology (env ETCD_ENDPOINTS)")
	fs.StringVar(&c.EtcdPrefix, "etcd-prefix", envString("ETCD_PREFIX", DefaultEtcdPrefix), "etcd key prefix (env ETCD_PREFIX)")
	fs.IntVar(&c.Fanout, "fanout", fanout, "ring successors per node for the initial neighbor set; 0 means all members (env FANOUT)")
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	c.EtcdEndpoints = splitList(*endpoints)
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Tick <= 0 {
		errs = append(errs, fmt.Errorf("tick must be positive, got %s", c.Tick))
	}
	if c.Fanout < 0 {
		errs = append(errs, fmt.Errorf("fanout must not be negative, got %d", c.Fanout))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	if len(c.EtcdEndpoints) > 0 && !strings.HasPrefix(c.EtcdPrefix, "/") {
		errs = append(errs, fmt.Errorf("etcd prefix must start with /, got %q", c.EtcdPrefix))
	}
	return errors.Join(errs...)
}

// Logger builds a zap logger writing to stderr; stdout carries the protocol.
func (c Config) Logger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.LogDev {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
