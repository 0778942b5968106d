package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"loadcheck/internal/api"
	"loadcheck/internal/bench"
	"loadcheck/internal/observability"
)

var serveFlags struct {
	addr    string
	gateway gatewayFlags
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard server",
	Example: `  # Dashboard on the default address
  loadcheck serve

  # Custom address, runs go against a local ZooKeeper
  loadcheck serve --addr :3000 --gateway zookeeper --target 127.0.0.1:2181`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", ":8080", "Server address (e.g. :8080, 0.0.0.0:3000)")
	serveFlags.gateway.register(serveCmd)
}

// runServer はダッシュボードを起動する
func runServer(cmd *cobra.Command, args []string) error {
	base := bench.DefaultConfig()
	serveFlags.gateway.apply(cmd, &base)

	shutdown, err := observability.InitTracer(otelEnabled, "loadcheck", otelEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	fmt.Println("loadcheck - Dashboard")
	fmt.Println("=====================")
	fmt.Printf("Starting server on http://%s\n", serveFlags.addr)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(serveFlags.addr, base)
	return server.Start(ctx)
}
