package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	app "github.com/musaver/admintaxmahir-sub002/internal/application/importing"
	"github.com/musaver/admintaxmahir-sub002/internal/bootstrap"
	"github.com/musaver/admintaxmahir-sub002/internal/config"
	"github.com/musaver/admintaxmahir-sub002/internal/infrastructure/db"
	infrafile "github.com/musaver/admintaxmahir-sub002/internal/infrastructure/file"
	"github.com/musaver/admintaxmahir-sub002/internal/infrastructure/metrics"
	"github.com/musaver/admintaxmahir-sub002/internal/infrastructure/queue"
	"github.com/musaver/admintaxmahir-sub002/internal/infrastructure/repository"
)

func main() {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := bootstrap.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("import service stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	gdb, pool, err := bootstrap.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.RunMigrationsOnStart {
		if err := db.Migrate(ctx, gdb); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("database migrations applied")
	}

	redisClient, err := bootstrap.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	stream := queue.NewRedisStream(redisClient, queue.RedisStreamConfig{
		Stream:    cfg.Import.Stream,
		Group:     cfg.Import.Group,
		Consumer:  cfg.Import.Consumer,
		Block:     cfg.Import.BlockTimeout,
		ClaimIdle: cfg.Import.ClaimIdle,
	})
	if err := stream.EnsureGroup(ctx); err != nil {
		return err
	}

	blobs, err := infrafile.NewLocalBlobStore(cfg.BlobDir)
	if err != nil {
		return err
	}

	ledger := repository.NewImportJobRepository(gdb)
	orchestrator := app.NewOrchestrator(
		ledger,
		repository.NewBatchStore(pool),
		app.NewCSVIngestor(infrafile.NewURLFetcher(cfg.Import.FetchTimeout)),
		app.NewRowProcessor(),
		metrics.Imports(),
		logger,
		app.OrchestratorConfig{
			BatchSize:     cfg.Import.BatchSize,
			LeaseDuration: cfg.Import.ClaimIdle,
		},
	)
	slots := queue.NewRedisSlots(redisClient, queue.RedisSlotsConfig{
		Key:   cfg.Import.SlotsKey,
		Limit: cfg.Import.MaxConcurrent,
		TTL:   cfg.Import.ClaimIdle,
	})
	worker := app.NewWorker(stream, orchestrator, slots, logger, app.WorkerConfig{
		Workers:           cfg.Import.Workers,
		MaxDeliveries:     cfg.Import.MaxDeliveries,
		HeartbeatInterval: cfg.Import.ClaimIdle / 3,
	})

	server := bootstrap.NewHTTPServer(bootstrap.ServerDeps{
		StartImport:     app.NewStartImport(ledger, blobs, stream, cfg.Import.MaxUploadBytes),
		GetImportStatus: app.NewGetImportStatus(ledger),
		MaxUploadBytes:  cfg.Import.MaxUploadBytes,
		Logger:          logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("port", cfg.Port))
		if err := server.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
