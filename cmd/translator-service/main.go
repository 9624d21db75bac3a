// main package for the translator-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/translator-service/internal/app"
	"github.com/book-expert/translator-service/internal/config"
	"github.com/book-expert/translator-service/internal/objectstore"
	"github.com/book-expert/translator-service/internal/web"
	"github.com/book-expert/translator-service/internal/worker"
	"github.com/nats-io/nats.go"
)

const (
	bootstrapLogFile = "translator-service-bootstrap.log"
	serviceLogFile   = "translator-service.log"
	uploadDirName    = "translator-uploads"

	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
	bytesPerMegabyte  = 1 << 20
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	err = config.LoadEnvFiles()
	if err != nil {
		bootstrapLog.Error("Failed to load environment file: %v", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	apiKey := config.ResolveAPIKey(os.Args[1:], os.Getenv)

	components, err := app.Build(cfg, apiKey, log)
	if err != nil {
		log.Error("Failed to build pipeline: %v", err)

		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.NATS.Enabled {
		nc, natsErr := startWorker(ctx, cfg, components, log)
		if natsErr != nil {
			return natsErr
		}
		defer nc.Close()
	}

	return serve(ctx, cfg, components, log)
}

func startWorker(ctx context.Context, cfg *config.Config, components *app.Components, log *logger.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		log.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := objectstore.New(js, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		nc.Close()

		return nil, err
	}

	natsWorker, err := worker.NewNatsWorker(nc, cfg.NATS.TranslationSubject, store, components.Pipeline,
		cfg.Speech.TempDir, log)
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("failed to create worker: %w", err)
	}

	go func() {
		runErr := natsWorker.Run(ctx)
		if runErr != nil {
			log.Error("Worker stopped: %v", runErr)
		}
	}()

	log.Info("Listening for translation requests on %s (bucket %s)", cfg.NATS.TranslationSubject, store.Bucket())

	return nc, nil
}

func serve(ctx context.Context, cfg *config.Config, components *app.Components, log *logger.Logger) error {
	server, err := web.NewServer(components.Pipeline, components.Recorder, web.Options{
		AllowedOrigins:    cfg.HTTP.AllowedOrigins,
		RequestsPerMinute: cfg.HTTP.RequestsPerMinute,
		MaxUploadBytes:    int64(cfg.HTTP.MaxUploadMB) * bytesPerMegabyte,
		UploadDir:         filepath.Join(cfg.Speech.TempDir, uploadDirName),
		MaxRecordDuration: app.MaxRecordDuration(cfg),
	}, log)
	if err != nil {
		return err
	}
	defer server.Close()

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		log.Info("Translator service listening on %s", cfg.HTTP.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed: %v", err)

			return fmt.Errorf("http server failed: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
