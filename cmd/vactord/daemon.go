package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/vactorio/vactor/config"
	"github.com/vactorio/vactor/lock/local"
	"github.com/vactorio/vactor/logging"
	"github.com/vactorio/vactor/persist/kvstore"
	registrylocal "github.com/vactorio/vactor/registry/local"
	"github.com/vactorio/vactor/runtime"
	"github.com/vactorio/vactor/transport"
	"github.com/vactorio/vactor/transport/bus"
)

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the vactor runtime until signaled to stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configFile != "" {
				loaded, err := config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("app-id") {
				cfg.AppID = appID
			}
			if cmd.Flags().Changed("transport") {
				cfg.Transport = transportFlag
			}
			if cmd.Flags().Changed("nats-hosts") {
				cfg.NATS.Hosts = natsHosts
			}
			if cmd.Flags().Changed("nats-port") {
				cfg.NATS.BasePort = natsPort
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			log := logging.New("vactord", cfg.AppID)

			tr, closeTransport, err := buildTransport(cfg)
			if err != nil {
				return fmt.Errorf("build transport: %w", err)
			}
			if closeTransport != nil {
				defer closeTransport()
			}

			rt := runtime.New(cfg.AppID, tr, local.New(), registrylocal.New(), kvstore.New())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := rt.Start(ctx); err != nil {
				return fmt.Errorf("start runtime: %w", err)
			}
			log.Printf("runtime started, app-id=%s transport=%q", cfg.AppID, cfg.Transport)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			log.Printf("shutdown signal received")

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			if err := rt.Stop(stopCtx); err != nil {
				return fmt.Errorf("stop runtime: %w", err)
			}
			log.Printf("runtime stopped")
			return nil
		},
	}
	return cmd
}

// buildTransport resolves the configured transport: the in-proc
// loopback by default, or a NATS connection when cfg.Transport ==
// "nats". The returned close func (nil for loopback) releases the
// underlying connection.
func buildTransport(cfg *config.Config) (transport.Transport, func(), error) {
	if cfg.Transport != "nats" {
		return transport.NewLoopback(), nil, nil
	}

	if len(cfg.NATS.Hosts) == 0 {
		return nil, nil, fmt.Errorf("transport=nats requires at least one nats.hosts entry")
	}
	urls := make([]string, len(cfg.NATS.Hosts))
	for i, h := range cfg.NATS.Hosts {
		urls[i] = fmt.Sprintf("nats://%s:%d", h, cfg.NATS.BasePort)
	}
	nc, err := nats.Connect(strings.Join(urls, ","))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}
	return bus.New(nc), nc.Close, nil
}
