package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"relaystore/internal/config"
	"relaystore/internal/log"
	"relaystore/internal/relay"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := NewRelayCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// RelayOptions holds the state of the relay command.
type RelayOptions struct {
	ConfigPath   string
	Listen       string
	HealthListen string
	CachePath    string
	CacheSize    int
	RequireCAS   bool
	RateLimit    float64
	RateBurst    int
	LogLevel     string

	cfg *config.RelayConfig
}

// NewRelayCommand creates the `relay` command that serves signed records
// over HTTP.
func NewRelayCommand() *cobra.Command {
	return newRelayCommand(&RelayOptions{})
}

func newRelayCommand(o *RelayOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve signed records over HTTP",
		Long: `Run a relay: an HTTP server storing the most recent signed record per
public key. Records are kept in memory unless --cache-path names a bbolt
database file.`,
		Example: `  # serve from memory on the default port
  relay

  # persist records and expose a gRPC health endpoint
  relay --cache-path /var/lib/relay/records.db --health-listen :6882`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return o.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&o.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVar(&o.Listen, "listen", config.DefaultListen, "HTTP listen address")
	cmd.Flags().StringVar(&o.HealthListen, "health-listen", "", "gRPC health listen address, empty disables it")
	cmd.Flags().StringVar(&o.CachePath, "cache-path", "", "bbolt database file, empty keeps records in memory")
	cmd.Flags().IntVar(&o.CacheSize, "cache-size", config.DefaultCacheSize, "number of records kept in memory")
	cmd.Flags().BoolVar(&o.RequireCAS, "require-cas", false, "reject overwrites without If-Unmodified-Since")
	cmd.Flags().Float64Var(&o.RateLimit, "rate-limit", 0, "PUTs per second per client address, 0 disables limiting")
	cmd.Flags().IntVar(&o.RateBurst, "rate-burst", config.DefaultRateBurst, "PUT burst per client address")
	cmd.Flags().StringVar(&o.LogLevel, "log-level", "info", "log level [debug, info, warn, error]")

	return cmd
}

// Complete builds the relay configuration from the config file, then
// applies every flag set on the command line.
func (o *RelayOptions) Complete(cmd *cobra.Command) error {
	cfg := config.DefaultRelayConfig()
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if o.ConfigPath == "" || flags.Changed("listen") {
		cfg.Listen = o.Listen
	}
	if flags.Changed("health-listen") {
		cfg.HealthListen = o.HealthListen
	}
	if flags.Changed("cache-path") {
		cfg.CachePath = o.CachePath
	}
	if flags.Changed("cache-size") {
		cfg.CacheSize = o.CacheSize
	}
	if flags.Changed("require-cas") {
		cfg.RequireCAS = o.RequireCAS
	}
	if flags.Changed("rate-limit") {
		cfg.RateLimiter = nil
		if o.RateLimit > 0 {
			cfg.RateLimiter = &config.RateLimiterConfig{PerSecond: o.RateLimit, Burst: o.RateBurst}
		}
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid relay configuration: %w", err)
	}
	o.cfg = cfg
	return nil
}

// Run serves until ctx is canceled.
func (o *RelayOptions) Run(ctx context.Context) error {
	level, err := log.ParseLevel(o.cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := log.New(level, os.Stderr)
	defer func() { _ = logger.Sync() }()

	store, err := relay.OpenStore(o.cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	server := relay.NewServer(o.cfg, store, logger)
	if err := server.Start(); err != nil {
		_ = store.Close()
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Stop(stopCtx); err != nil {
		logger.Errorf("[relay] shutdown failed: %v", err)
		return err
	}
	return nil
}
