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

	"github.com/example/ride-hailing/internal/config"
	"github.com/example/ride-hailing/internal/dispatch"
	"github.com/example/ride-hailing/internal/eta"
	"github.com/example/ride-hailing/internal/events"
	"github.com/example/ride-hailing/internal/geo"
	httpapi "github.com/example/ride-hailing/internal/http"
	"github.com/example/ride-hailing/internal/logging"
	"github.com/example/ride-hailing/internal/matcher"
	"github.com/example/ride-hailing/internal/pricing"
	"github.com/example/ride-hailing/internal/rides"
	"github.com/example/ride-hailing/internal/session"
	"github.com/example/ride-hailing/internal/storage"
	"github.com/example/ride-hailing/internal/wallet"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

type closer func() error

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
	}()

	rideStore, accounts, err := openStores(ctx, cfg, logger, &closers)
	if err != nil {
		return err
	}

	var index geo.Index = geo.NewMemoryIndex()
	if cfg.RedisAddr != "" {
		ri := geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		if err := ri.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		closers = append(closers, ri.Close)
		index = ri
		logger.Info("driver positions in redis", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	}

	publisher, locations, err := openEvents(cfg, &closers)
	if err != nil {
		return err
	}

	estimator := &eta.Estimator{Cache: eta.NewCache(cfg.ETACacheTTL), SpeedMps: cfg.DefaultSpeedMps}
	if cfg.OSRMURL != "" {
		estimator.Client = eta.NewOSRMClient(cfg.OSRMURL)
	}

	rideSvc := rides.NewService(rideStore, accounts, pricing.NewCalculator(cfg.PricePerMeter), logger)
	api := httpapi.NewServer(httpapi.Deps{
		Rides:               rideSvc,
		Wallet:              wallet.NewService(accounts, logger),
		Matcher:             &matcher.Service{ETA: estimator, TopN: cfg.MatcherTopN},
		Geo:                 index,
		Throttle:            geo.NewThrottleSet(cfg.LocationMinDistance, cfg.LocationMinInterval),
		Sessions:            session.NewDecoder(cfg.JWTSecret),
		Hub:                 dispatch.NewHub(),
		Locations:           locations,
		FeedPollInterval:    cfg.FeedPollInterval,
		LocationMinDistance: cfg.LocationMinDistance,
		LocationMinInterval: cfg.LocationMinInterval,
	}, logger)

	if cfg.EventsBackend != config.EventsNone {
		fwd := events.NewForwarder(rideSvc, publisher, logger)
		go func() {
			if err := fwd.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("ride change forwarder stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-hailing listening", "addr", cfg.HTTPAddr, "events", cfg.EventsBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStores(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger, closers *[]closer) (storage.RideStore, storage.AccountStore, error) {
	if cfg.PGDSN == "" {
		logger.Warn("PG_DSN not set, rides and wallets kept in memory")
		return storage.NewMemoryRideStore(logger), storage.NewMemoryAccountStore(), nil
	}
	db, err := storage.OpenPostgres(ctx, cfg.PGDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	*closers = append(*closers, db.Close)
	if cfg.RunMigrations {
		if err := storage.Migrate(ctx, db, logger); err != nil {
			return nil, nil, err
		}
	}
	rideStore := storage.NewPostgresRideStore(db, cfg.PGDSN, logger)
	*closers = append(*closers, rideStore.Close)
	return rideStore, storage.NewPostgresAccountStore(db), nil
}

// openEvents picks the broker for ride changes. Driver locations only go to
// Kafka, where the consumer reads them.
func openEvents(cfg config.ServerConfig, closers *[]closer) (events.Publisher, events.LocationPublisher, error) {
	var (
		publisher events.Publisher         = events.Nop{}
		locations events.LocationPublisher = events.Nop{}
	)
	if len(cfg.KafkaBrokers) > 0 {
		k := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaRideEventTopic, cfg.KafkaLocationTopic)
		*closers = append(*closers, k.Close)
		locations = k
		if cfg.EventsBackend == config.EventsKafka {
			publisher = k
		}
	}
	if cfg.EventsBackend == config.EventsRabbitMQ {
		p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		*closers = append(*closers, p.Close)
		publisher = p
	}
	return publisher, locations, nil
}
