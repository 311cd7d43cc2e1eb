// Package main is the entry point for the metering API server.
//
// It loads configuration, connects PostgreSQL and AWS clients, wires the
// authorization service and tier transition manager, and serves the HTTP API
// until SIGINT/SIGTERM triggers a graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"metergate/internal/api/handlers"
	"metergate/internal/billing"
	"metergate/internal/catalog"
	"metergate/internal/config"
	"metergate/internal/core"
	"metergate/internal/events"
	"metergate/internal/quota"
	"metergate/internal/store"
	"metergate/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("metering API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.LoadJSON(cfg.Catalog.OverrideJSON)
	if err != nil {
		return fmt.Errorf("loading plan catalog: %w", err)
	}

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()
	st := store.NewPG(pool)

	awsCfg, err := newAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}

	clock := types.RealClock{}
	publisher := events.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS.EventsQueue, clock, logger)
	metrics := events.NewCloudWatchDecisionMetrics(cloudwatch.NewFromConfig(awsCfg), logger)

	prices, err := cfg.Billing.StripePrices()
	if err != nil {
		return err
	}
	subs := billing.NewStripeUpdater(cfg.Billing.StripeSecretKey.Unmask(), prices, logger)

	manager := billing.NewManager(st, cat, publisher, subs, clock, logger)
	authorizer := quota.NewService(st, cat, publisher, metrics, manager, clock, logger)

	srv := core.NewServer(cfg.Server, logger)
	validator := core.NewValidator()
	handlers.NewAuthorizeHandler(authorizer, validator, logger).RegisterRoutes(srv.Router())
	handlers.NewUsageHandler(st, cat, clock, logger).RegisterRoutes(srv.Router())
	handlers.NewPackHandler(st, validator, clock, logger).RegisterRoutes(srv.Router())
	handlers.NewTierHandler(manager, clock, logger).RegisterRoutes(srv.Router())

	return srv.Start(ctx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	return pgxpool.NewWithConfig(ctx, poolCfg)
}

func newAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.EndpointURL))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}
