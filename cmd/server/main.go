package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloudvault/internal/cancel"
	"cloudvault/internal/catalog"
	"cloudvault/internal/config"
	"cloudvault/internal/database"
	"cloudvault/internal/events"
	"cloudvault/internal/fetch"
	"cloudvault/internal/logging"
	"cloudvault/internal/objstore"
	"cloudvault/internal/progress"
	"cloudvault/internal/proxy"
	"cloudvault/internal/spool"
	"cloudvault/internal/telemetry"
	"cloudvault/internal/transfer"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := logging.New("cloudvault", cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Init(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	history, err := progress.NewStore(db)
	if err != nil {
		return fmt.Errorf("progress store: %w", err)
	}
	files, err := catalog.NewRepository(db)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	sp, err := spool.New(cfg.SpoolDir)
	if err != nil {
		return fmt.Errorf("spool: %w", err)
	}
	objects, err := openObjects(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}
	logger.Info("object storage ready", "backend", cfg.Storage.Backend, "bucket", cfg.Storage.Bucket)

	reporter, err := telemetry.New(cfg.SentryDSN, "production")
	if err != nil {
		return fmt.Errorf("sentry: %w", err)
	}
	defer reporter.Flush(2 * time.Second)

	hub := events.NewHub(logger)
	defer hub.Close()

	opts := transfer.DefaultOptions()
	opts.PrimaryLimit = cfg.PrimaryLimit
	opts.PreviewLimit = cfg.PreviewLimit
	opts.Retention = cfg.Retention.Std()
	opts.JanitorInterval = cfg.JanitorInterval.Std()
	opts.IdleTimeout = cfg.IdleTimeout.Std()
	opts.PersistInterval = cfg.PersistInterval.Std()
	opts.Logger = logger
	if reporter != nil {
		opts.Reporter = reporter
	}
	scheduler := transfer.New(history, hub, cancel.NewRegistry(), opts)
	scheduler.Start(ctx)

	server := proxy.NewServer(cfg.Addr, proxy.Deps{
		Scheduler:    scheduler,
		History:      history,
		Hub:          hub,
		Catalog:      files,
		Objects:      objects,
		Spool:        sp,
		Fetcher:      fetch.NewClient(cfg.FetchTimeout.Std()),
		Logger:       logger,
		ChunkSize:    cfg.ChunkSize,
		PingInterval: cfg.PingInterval.Std(),
		HLSBitrate:   cfg.HLSBitrate,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown", "error", serr)
	}
	// live transfers end as failed with "scheduler shut down"
	scheduler.Close()
	server.Wait()
	return err
}

func openObjects(ctx context.Context, st config.Storage) (objstore.Client, error) {
	switch st.Backend {
	case "", "memory":
		return objstore.NewMemory(), nil
	case "minio":
		return objstore.NewMinio(ctx, objstore.MinioConfig{
			Endpoint:  st.Endpoint,
			AccessKey: st.AccessKey,
			SecretKey: st.SecretKey,
			Bucket:    st.Bucket,
			Region:    st.Region,
			UseSSL:    st.UseSSL,
		})
	case "s3":
		return objstore.NewS3(ctx, objstore.S3Config{
			Bucket:    st.Bucket,
			Region:    st.Region,
			Endpoint:  st.Endpoint,
			AccessKey: st.AccessKey,
			SecretKey: st.SecretKey,
			PathStyle: st.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", st.Backend)
	}
}
