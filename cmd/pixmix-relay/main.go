package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/pixmix-relay/internal/api/handlers/device"
	"github.com/aliskhannn/pixmix-relay/internal/api/handlers/generate"
	"github.com/aliskhannn/pixmix-relay/internal/api/handlers/health"
	"github.com/aliskhannn/pixmix-relay/internal/api/router"
	"github.com/aliskhannn/pixmix-relay/internal/api/server"
	"github.com/aliskhannn/pixmix-relay/internal/auth"
	"github.com/aliskhannn/pixmix-relay/internal/config"
	"github.com/aliskhannn/pixmix-relay/internal/converter"
	"github.com/aliskhannn/pixmix-relay/internal/editor"
	"github.com/aliskhannn/pixmix-relay/internal/infra/kafka/consumer"
	"github.com/aliskhannn/pixmix-relay/internal/infra/kafka/producer"
	notifymsg "github.com/aliskhannn/pixmix-relay/internal/kafka/handlers/notification"
	"github.com/aliskhannn/pixmix-relay/internal/metrics"
	"github.com/aliskhannn/pixmix-relay/internal/model"
	"github.com/aliskhannn/pixmix-relay/internal/notification"
	"github.com/aliskhannn/pixmix-relay/internal/prompt"
	devicerepo "github.com/aliskhannn/pixmix-relay/internal/repository/device"
	gensvc "github.com/aliskhannn/pixmix-relay/internal/service/generate"
	"github.com/aliskhannn/pixmix-relay/internal/storage/file"
	"github.com/aliskhannn/pixmix-relay/internal/storage/object"
)

// registry is the Token Registry as used by the HTTP handlers and the dispatcher.
type registry interface {
	Migrate(ctx context.Context) error
	Upsert(ctx context.Context, reg model.DeviceRegistration) error
	Get(ctx context.Context, userID string) (model.DeviceRegistration, error)
	Lookup(ctx context.Context, userID string) (string, bool, error)
	Remove(ctx context.Context, userID string) error
}

type pipelineNotifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad("./config/config.yml")

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m, err := metrics.New("pixmix", promReg)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to register metrics")
	}

	// Token Registry backend.
	devices, closeRegistry, err := openRegistry(ctx, cfg.Registry)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Str("driver", cfg.Registry.Driver).Msg("failed to open token registry")
	}
	if err := devices.Migrate(ctx); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to migrate token registry")
	}

	// Retry strategy for push delivery and Kafka.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Object Stage Store (MinIO / S3-compatible).
	stage, err := object.NewStorage(ctx, cfg.Storage, m)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
	}

	spool, err := file.NewSpool(cfg.Server.UploadDir, cfg.Server.MaxUploadBytes)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to prepare upload dir")
	}

	imageEditor := editor.New(cfg.Editor)
	conv := converter.New()
	prompts := prompt.New()

	notifyClient := &http.Client{Timeout: 10 * time.Second}
	dispatcher := notification.NewDispatcher(
		cfg.Notification,
		strategy,
		notification.NewTokenSource(cfg.Notification.TokenURL, notifyClient),
		devices,
		m,
		notifyClient,
	)

	// Pick how the pipeline hands off notifications.
	var (
		notifier pipelineNotifier
		p        *producer.Producer
		c        *consumer.Consumer
		wg       sync.WaitGroup
	)
	switch cfg.Notification.Mode {
	case "queue":
		p = producer.New(&cfg.Kafka, strategy)
		c = consumer.New(&cfg.Kafka, strategy, notifymsg.NewHandler(dispatcher))
		notifier = p

		wg.Add(1)
		go c.Consume(ctx, &wg)
	case "disabled":
		zlog.Logger.Info().Msg("push notifications disabled")
	default:
		if !dispatcher.Enabled() {
			zlog.Logger.Warn().Msg("notification token_url or push_url not set, pushes will be skipped")
		}
		notifier = dispatcher
	}

	service := gensvc.NewService(spool, conv, prompts, stage, imageEditor, notifier, m, cfg.Editor.NormalizePNG)

	opts := router.Options{
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit:   cfg.RateLimit,
	}
	if cfg.Auth.Enabled {
		validator, err := auth.NewValidator(cfg.Auth)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to create token validator")
		}
		opts.Validator = validator
	}

	r := router.Setup(router.Handlers{
		Generate: generate.NewHandler(service, cfg.Server.MaxUploadBytes),
		Probe:    generate.NewProbeHandler(conv, imageEditor),
		Device:   device.NewHandler(devices),
		Health:   health.NewHandler(prompts),
		Metrics:  promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
	}, opts)

	// The edit call plus push retries must fit in one response.
	s := server.New(cfg.Server.Addr(), r, cfg.Editor.Timeout+30*time.Second)
	go func() {
		zlog.Logger.Info().Str("addr", s.Addr).Msg("starting server")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	// Wait for the Kafka consumer goroutine to finish.
	wg.Wait()

	if p != nil {
		if err := p.Client.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
		}
	}
	if c != nil {
		if err := c.Client.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
		}
	}

	closeRegistry()
}

// openRegistry connects the configured Token Registry backend.
func openRegistry(ctx context.Context, cfg config.Registry) (registry, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := devicerepo.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}

		return devicerepo.NewSQLiteRepository(db), func() {
			if err := db.Close(); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to close sqlite")
			}
		}, nil

	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		client, err := devicerepo.ConnectMongo(connectCtx, cfg.Mongo.URI)
		if err != nil {
			return nil, nil, err
		}

		return devicerepo.NewMongoRepository(client.Database(cfg.Mongo.Database)), func() {
			if err := client.Disconnect(context.Background()); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to disconnect mongo")
			}
		}, nil

	default:
		opts := &dbpg.Options{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		}

		// Collect slave DSNs for replica connections.
		slaveDSNs := make([]string, 0, len(cfg.Postgres.Slaves))
		for _, s := range cfg.Postgres.Slaves {
			slaveDSNs = append(slaveDSNs, s.DSN())
		}

		db, err := dbpg.New(cfg.Postgres.Master.DSN(), slaveDSNs, opts)
		if err != nil {
			return nil, nil, err
		}

		return devicerepo.NewRepository(db), func() {
			if err := db.Master.Close(); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to close master DB")
			}
			for i, s := range db.Slaves {
				if err := s.Close(); err != nil {
					zlog.Logger.Error().Err(err).Int("slave", i).Msg("failed to close slave DB")
				}
			}
		}, nil
	}
}
