// SPDX-License-Identifier: MIT

// Command correlatord runs the analytics correlation worker pool: it
// consumes query/response event batches from the queue and joins them
// into durable correlated records.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/skillsift/matchtrail/internal/config"
	"github.com/skillsift/matchtrail/internal/correlator"
	xlog "github.com/skillsift/matchtrail/internal/log"
	"github.com/skillsift/matchtrail/internal/queue"
	"github.com/skillsift/matchtrail/internal/sigv4"
	"github.com/skillsift/matchtrail/internal/store"
	"github.com/skillsift/matchtrail/internal/telemetry"
	"github.com/skillsift/matchtrail/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "correlatord: %v\n", err)
		os.Exit(1)
	}

	xlog.Configure(xlog.Config{
		Level:   cfg.LogLevel,
		Service: "matchtrail",
	})
	logger := xlog.WithComponent("correlatord")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.WatchLogLevel(ctx, *configPath, xlog.WithComponent("config")); err != nil {
		logger.Warn().Err(err).Msg("config watcher unavailable")
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("correlatord exited")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "matchtrail-correlatord",
		ExporterType: cfg.OTelExporter,
		Endpoint:     cfg.OTelEndpoint,
		SamplingRate: cfg.OTelSampling,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	interim, err := store.NewRedisInterim(store.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, xlog.WithComponent("interim-store"))
	if err != nil {
		return fmt.Errorf("interim store: %w", err)
	}
	defer interim.Close()

	final, err := store.OpenSQLiteFinal(cfg.SQLitePath, store.DefaultSQLiteConfig())
	if err != nil {
		return fmt.Errorf("final store: %w", err)
	}
	defer final.Close()

	signer := sigv4.NewSigner(sigv4.Credentials{
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		SessionToken:    cfg.SessionToken,
	}, cfg.Region, "sqs")

	client, err := queue.NewClient(queue.ClientConfig{
		QueueURL:       cfg.QueueURL,
		DeadLetterURL:  cfg.DeadLetterURL,
		Region:         cfg.Region,
		RequestTimeout: cfg.RequestTimeout,
	}, signer, xlog.WithComponent("queue"))
	if err != nil {
		return fmt.Errorf("queue client: %w", err)
	}

	corr := correlator.New(interim, final, correlator.Config{
		Window: cfg.Window,
	}, xlog.WithComponent("correlator"))

	var archive *store.DeadLetterArchive
	if cfg.ArchivePath != "" {
		archive, err = store.OpenDeadLetterArchive(cfg.ArchivePath, cfg.ArchiveRetention)
		if err != nil {
			return fmt.Errorf("dead-letter archive: %w", err)
		}
		defer func() { _ = archive.Close() }()
	}

	group, ctx := errgroup.WithContext(ctx)

	// Stateless worker pool. The queue scopes ordering per message group,
	// so parallel workers never reorder one interaction's events.
	for i := 0; i < cfg.Workers; i++ {
		consumer := queue.NewConsumer(queue.ConsumerConfig{
			MaxBatch:            cfg.MaxBatch,
			WaitTime:            cfg.WaitTime,
			MaxDeliveryAttempts: cfg.MaxDeliveryAttempts,
			PollsPerSecond:      cfg.PollsPerSecond,
		}, client, corr, xlog.WithComponent(fmt.Sprintf("consumer-%d", i)))
		if archive != nil {
			consumer.WithArchive(dlqArchive{archive})
		}

		group.Go(func() error {
			err := consumer.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	group.Go(func() error {
		return serveHTTP(ctx, cfg.ListenAddr, logger)
	})

	logger.Info().
		Str("queue_url", cfg.QueueURL).
		Int("workers", cfg.Workers).
		Dur("window", cfg.Window).
		Str("version", version.Version).
		Msg("correlatord started")

	return group.Wait()
}

// dlqArchive adapts the badger archive to the consumer's Archiver surface.
type dlqArchive struct {
	archive *store.DeadLetterArchive
}

func (d dlqArchive) Archive(ctx context.Context, msg queue.Message) error {
	return d.archive.Put(ctx, store.ArchivedMessage{
		MessageID: msg.ID,
		GroupID:   msg.GroupID,
		Body:      json.RawMessage(msg.Body),
		Attempts:  msg.ReceiveCount,
	})
}

// serveHTTP exposes liveness, readiness and metrics endpoints.
func serveHTTP(ctx context.Context, addr string, logger zerolog.Logger) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httprate.LimitByIP(600, time.Minute))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Health and metrics endpoints stay out of the trace stream.
	handler := otelhttp.NewHandler(r, "matchtrail-http",
		otelhttp.WithFilter(func(req *http.Request) bool {
			switch req.URL.Path {
			case "/healthz", "/readyz", "/metrics":
				return false
			}
			return true
		}),
	)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown failed")
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
