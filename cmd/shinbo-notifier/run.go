package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/junnnnnw00/shinbo-notification/internal/config"
	"github.com/junnnnnw00/shinbo-notification/internal/firebaseapp"
	"github.com/junnnnnw00/shinbo-notification/internal/logging"
	"github.com/junnnnnw00/shinbo-notification/internal/metrics"
	"github.com/junnnnnw00/shinbo-notification/internal/notifications"
	"github.com/junnnnnw00/shinbo-notification/internal/pipeline"
	"github.com/junnnnnw00/shinbo-notification/internal/source"
	"github.com/junnnnnw00/shinbo-notification/internal/store"
)

// dryRunDestination stands in for the registry during DRY_RUN so every new
// posting is printed once.
const dryRunDestination = "dry-run-destination"

// run executes one notifier cycle. Only configuration and client
// initialization errors are returned; source and delivery failures are
// logged by the pipeline.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.WithRun(logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}), uuid.NewString())

	if cfg.StartupJitter > 0 && !cfg.DryRun {
		wait := time.Duration(rand.Int63n(int64(cfg.StartupJitter)))
		logger.Info("sleeping before run", "wait", wait)
		time.Sleep(wait)
	}

	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}

	m := metrics.FromSettings(cfg.Metrics)
	m.RecordExecutionStart()
	start := time.Now()

	fail := func(err error) error {
		m.RecordExecutionFailure(time.Since(start))
		pushMetrics(ctx, m, logger)
		return err
	}

	var firebase *firebaseapp.Handle
	if cfg.NeedsFirebase() {
		firebase, err = firebaseapp.New(cfg.FirebaseCredentialsJSON, cfg.FirebaseDatabaseURL)
		if err != nil {
			return fail(err)
		}
	}

	kv, err := openStore(ctx, cfg, firebase, m)
	if err != nil {
		return fail(err)
	}
	gateway := store.NewGateway(kv, m)
	defer gateway.Close()

	transport, err := openTransport(ctx, cfg, firebase)
	if err != nil {
		return fail(err)
	}

	var mirrors []notifications.Notifier
	if cfg.DryRun {
		if err := gateway.SetTokens(ctx, dryRunDestination); err != nil {
			return fail(err)
		}
	} else {
		mirrors = openMirrors(cfg)
	}

	logger.Info("starting run",
		"sources", len(sources),
		"store", cfg.StoreBackend,
		"transport", transport.Name(),
		"mirrors", len(mirrors),
		"dry_run", cfg.DryRun,
	)

	runner := pipeline.New(sources, pipeline.Options{
		Gateway:       gateway,
		Dispatcher:    notifications.NewDispatcher(transport, mirrors, m, logger),
		Metrics:       m,
		Logger:        logger,
		SourceOptions: source.Options{Timeout: cfg.HTTPTimeout},
	})
	runner.Run(ctx)

	m.RecordExecutionSuccess(time.Since(start))
	pushMetrics(ctx, m, logger)
	return nil
}

func openStore(ctx context.Context, cfg config.Config, firebase *firebaseapp.Handle, m *metrics.Metrics) (store.KV, error) {
	if cfg.DryRun {
		return store.NewMemory(), nil
	}

	switch cfg.StoreBackend {
	case config.StoreFirebase:
		client, err := firebase.Database(ctx)
		if err != nil {
			return nil, err
		}
		return store.NewFirebase(client, ""), nil
	case config.StorePostgres:
		return store.NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return store.NewRedis(ctx, cfg.RedisURL, cfg.RedisKeyPrefix, m)
	}
}

func openTransport(ctx context.Context, cfg config.Config, firebase *firebaseapp.Handle) (notifications.Transport, error) {
	if cfg.DryRun {
		return notifications.NewStdoutTransport(os.Stdout), nil
	}

	switch cfg.PushTransport {
	case config.TransportWebPush:
		return notifications.NewWebPushTransport(notifications.WebPushConfig{
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			VAPIDSubject:    cfg.VAPIDSubject,
			TTLSeconds:      cfg.PushTTLSeconds,
			HTTPClient:      &http.Client{Timeout: cfg.HTTPTimeout},
		})
	default:
		client, err := firebase.Messaging(ctx)
		if err != nil {
			return nil, err
		}
		return notifications.NewFCMTransport(client), nil
	}
}

func openMirrors(cfg config.Config) []notifications.Notifier {
	client := &http.Client{Timeout: cfg.HTTPTimeout}

	var mirrors []notifications.Notifier
	if cfg.NtfyTopicURL != "" {
		mirrors = append(mirrors, notifications.NewNtfyNotifier(client, cfg.NtfyTopicURL, cfg.NtfyToken))
	}
	if cfg.DiscordWebhookURL != "" {
		mirrors = append(mirrors, notifications.NewDiscordNotifier(client, cfg.DiscordWebhookURL))
	}
	if cfg.WebhookURL != "" {
		mirrors = append(mirrors, notifications.NewWebhookNotifier(client, cfg.WebhookURL, cfg.WebhookToken))
	}
	return mirrors
}

func pushMetrics(ctx context.Context, m *metrics.Metrics, logger *slog.Logger) {
	if err := m.Push(ctx); err != nil {
		logger.Warn("failed to push metrics", "err", err)
	}
}
