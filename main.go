package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tournevent/carrierbridge/internal/booking"
	"github.com/tournevent/carrierbridge/internal/server"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "carrierbridge",
	Short:   "Carrier Bridge - DHL Express and FedEx booking service",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and GraphQL server",
	RunE:  runServe,
}

var carriersCmd = &cobra.Command{
	Use:   "carriers",
	Short: "List the carriers enabled by the current configuration",
	RunE:  runCarriers,
}

func init() {
	rootCmd.AddCommand(serveCmd, carriersCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
	} else {
		defer func() { _ = tracerShutdown(context.Background()) }()
	}
	tracer := otel.Tracer(cfg.ServiceName)

	reg, metrics := initMetrics()
	registry := initShipperRegistry(cfg, metrics, logger, tracer)

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	opts := []booking.Option{
		booking.WithValidator(initValidator()),
		booking.WithLocker(deps.locker),
		booking.WithMetrics(metrics),
		booking.WithTracer(tracer),
	}
	if deps.source != nil {
		opts = append(opts, booking.WithShipmentSource(deps.source))
	}
	if deps.archive != nil {
		opts = append(opts, booking.WithArchiver(deps.archive))
	}
	orch := booking.New(registry, deps.store, deps.syncer, logger, opts...)

	logger.Info("Starting Carrier Bridge",
		zap.Int("port", cfg.Port),
		zap.String("version", cfg.Version),
		zap.Strings("carriers", registry.ListSupported()),
		zap.String("sync_backend", cfg.SyncBackend),
	)

	srv := server.New(server.Config{
		Port:           cfg.Port,
		RequestTimeout: cfg.BookingTimeout + cfg.TokenTimeout + cfg.RateTimeout,
	}, orch, reg, logger)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runCarriers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}

	_, metrics := initMetrics()
	registry := initShipperRegistry(cfg, metrics, logger, otel.Tracer(cfg.ServiceName))
	for _, name := range registry.ListSupported() {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}
