// main package for the synth-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/piper-hub/synth-service/internal/backend"
	"github.com/piper-hub/synth-service/internal/config"
	"github.com/piper-hub/synth-service/internal/core"
	"github.com/piper-hub/synth-service/internal/objectstore"
	"github.com/piper-hub/synth-service/internal/orchestrator"
	"github.com/piper-hub/synth-service/internal/worker"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "synth-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return runService(cfg, finalLog)
}

func runService(cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	textStore, audioStore, err := setupObjectStores(natsConnection, cfg)
	if err != nil {
		return err
	}

	synthOrchestrator, err := orchestrator.New(
		cfg.Synthesis, backendLoadFunc(cfg, log), log,
	)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	natsWorker, err := worker.NewNatsWorker(
		natsConnection,
		cfg.NATS.SynthesisSubject,
		textStore,
		audioStore,
		synthOrchestrator,
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	log.System(
		"Synth-Service successfully initialized. Listening for jobs on subject: %s",
		cfg.NATS.SynthesisSubject,
	)

	runErr := natsWorker.Run(ctx)
	if runErr != nil {
		return fmt.Errorf("worker stopped with error: %w", runErr)
	}

	log.System("Synth-Service shut down cleanly.")

	return nil
}

func setupObjectStores(
	natsConnection *nats.Conn,
	cfg *config.Config,
) (core.ObjectStore, core.ObjectStore, error) {
	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	textStore, err := objectstore.New(jetstreamContext, cfg.NATS.TextObjectStoreBucket)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create text object store: %w", err)
	}

	audioStore, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create audio object store: %w", err)
	}

	return textStore, audioStore, nil
}

// backendLoadFunc builds the loader that brings the synthesis backend up on
// first use. The backend process may still be warming its model when this
// service starts, so readiness is checked here rather than at boot.
func backendLoadFunc(cfg *config.Config, log *logger.Logger) orchestrator.LoadFunc {
	return func(ctx context.Context) (core.Backend, error) {
		timeout := time.Duration(cfg.Backend.TimeoutSeconds) * time.Second
		httpBackend := backend.NewHTTPBackend(cfg.Backend.URL, timeout)

		meta := httpBackend.Metadata(ctx)
		if !meta.Ready {
			return nil, fmt.Errorf(
				"%w: backend at %s is not ready",
				core.ErrBackendUnavailable, cfg.Backend.URL,
			)
		}

		log.Info(
			"Synthesis backend ready at %s (device: %s, sample rate: %d)",
			cfg.Backend.URL, meta.Device, meta.SampleRate,
		)

		return httpBackend, nil
	}
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
