package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile    string
	appID         string
	transportFlag string
	natsHosts     []string
	natsPort      int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vactord",
		Short: "vactor actor-runner daemon",
		Long:  "Run the vactor virtual-actor runtime: transport, lock and registry clients, actor containers, and the invocation portal",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a k=v config overrides file")
	rootCmd.PersistentFlags().StringVar(&appID, "app-id", "", "This process's application ID")
	rootCmd.PersistentFlags().StringVar(&transportFlag, "transport", "", `Transport: "nats" or empty for in-proc loopback`)
	rootCmd.PersistentFlags().StringSliceVar(&natsHosts, "nats-hosts", nil, "NATS server hosts")
	rootCmd.PersistentFlags().IntVar(&natsPort, "nats-port", 0, "NATS server base port")
	rootCmd.AddCommand(daemonCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
