package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	auction "auction-service/internal/auctionService"
	"auction-service/internal/broker"
	"auction-service/internal/broker/kafka"
	"auction-service/internal/broker/rabbitmq"
	"auction-service/internal/clock"
	"auction-service/internal/config"
	"auction-service/internal/ingestion"
	"auction-service/internal/lease"
	"auction-service/internal/metrics"
	"auction-service/internal/notification"
	"auction-service/internal/repository"
	"auction-service/internal/scheduler"
	"auction-service/internal/server"
	"auction-service/utils"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// transport is the broker adapter selected by configuration
type transport interface {
	broker.Publisher
	broker.Subscriber
}

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		utils.Fatal("Failed to load configuration", map[string]any{"error": err.Error()})
	}
	if err := utils.SetLevel(cfg.LogLevel); err != nil {
		utils.Fatal("Invalid log level", map[string]any{"error": err.Error()})
	}

	// a failed background task exits non-zero so the host restarts the process
	if err := run(cfg); err != nil {
		utils.Fatal("Auction service stopped with error", map[string]any{"error": err.Error()})
	}
	utils.Info("Auction service stopped", nil)
}

// run starts every component and blocks until a signal arrives or one of them fails.
// Resources are released before it returns.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo := openRepository(ctx, cfg.Database)
	bus := openBroker(cfg.Broker)
	defer func() {
		if err := bus.Close(); err != nil {
			utils.Warn("Closing broker failed", map[string]any{"error": err.Error()})
		}
	}()

	m := metrics.New(prometheus.DefaultRegisterer)
	clk := clock.RealClock{}

	producer := notification.NewProducer(bus, producerConfig(cfg), m)

	schedOpts := []scheduler.Option{scheduler.WithMetrics(m)}
	if cfg.Scheduler.Lease.Enabled {
		l, err := lease.Connect(ctx, lease.Options{
			Addr:     cfg.Scheduler.Lease.RedisAddr,
			Password: cfg.Scheduler.Lease.Password,
			DB:       cfg.Scheduler.Lease.DB,
			Key:      cfg.Scheduler.Lease.Key,
			TTL:      cfg.Scheduler.Lease.TTL,
		})
		if err != nil {
			return fmt.Errorf("connect to scan lease store: %w", err)
		}
		defer func() {
			if err := l.Close(); err != nil {
				utils.Warn("Closing scan lease failed", map[string]any{"error": err.Error()})
			}
		}()
		schedOpts = append(schedOpts, scheduler.WithLease(l))
	}
	sched := scheduler.New(repo, producer, clk, scheduler.Config{
		Interval:               cfg.Scheduler.Interval,
		MaxConsecutiveFailures: cfg.Scheduler.MaxConsecutiveFailures,
	}, schedOpts...)

	bidHandler := ingestion.NewBidHandler(repo, clk, ingestion.HandlerConfig{
		FreshnessWindow: cfg.Ingestion.FreshnessWindow,
		RequeueDelay:    cfg.Ingestion.RequeueDelay,
	}, m)
	consumer := ingestion.NewConsumer(bus, cfg.Broker.BidQueue, bidHandler, cfg.Ingestion.Workers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return consumer.Run(gctx) })

	if cfg.HTTP.Enabled {
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           server.SetupRouter(auction.NewAuctionService(repo), prometheus.DefaultGatherer),
			ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		}
		g.Go(func() error {
			utils.Info("Starting HTTP server", map[string]any{"addr": cfg.HTTP.Addr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	utils.Info("Auction service started", map[string]any{
		"database": cfg.Database.Driver,
		"broker":   cfg.Broker.Driver,
		"workers":  cfg.Ingestion.Workers,
		"interval": cfg.Scheduler.Interval.String(),
	})

	return g.Wait()
}

// openRepository selects the store named by cfg.Driver
func openRepository(ctx context.Context, cfg config.DatabaseConfig) repository.AuctionDB {
	if cfg.Driver != "postgres" {
		return repository.NewMemoryRepo()
	}

	db, err := repository.ConnectPostgres(ctx, cfg.DSN, repository.PostgresOptions{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		utils.Fatal("Failed to connect to postgres", map[string]any{"error": err.Error()})
	}
	if cfg.AutoMigrate {
		if err := repository.Migrate(db); err != nil {
			utils.Fatal("Failed to migrate schema", map[string]any{"error": err.Error()})
		}
	}
	return repository.NewGormRepo(db)
}

// openBroker selects the transport named by cfg.Driver
func openBroker(cfg config.BrokerConfig) transport {
	switch cfg.Driver {
	case "rabbitmq":
		client, err := rabbitmq.Dial(rabbitmq.Config{
			URL:      cfg.RabbitMQ.URL,
			Durable:  cfg.RabbitMQ.Durable,
			Prefetch: cfg.RabbitMQ.Prefetch,
		})
		if err != nil {
			utils.Fatal("Failed to connect to rabbitmq", map[string]any{"error": err.Error()})
		}
		return client
	case "kafka":
		client, err := kafka.New(kafka.Config{
			Brokers:     cfg.Kafka.Brokers,
			GroupID:     cfg.Kafka.GroupID,
			TopicPrefix: cfg.Kafka.TopicPrefix,
		})
		if err != nil {
			utils.Fatal("Failed to create kafka client", map[string]any{"error": err.Error()})
		}
		return client
	default:
		return broker.NewMemoryBroker(cfg.MemoryQueueSize)
	}
}

// producerConfig maps the configured retry budget; zero retries must not fall back to the default
func producerConfig(cfg *config.Config) notification.Config {
	retries := cfg.Producer.MaxRetries
	if retries == 0 {
		retries = -1
	}
	return notification.Config{
		Queue:          cfg.Broker.AuctionQueue,
		MaxRetries:     retries,
		InitialBackoff: cfg.Producer.InitialBackoff,
		MaxBackoff:     cfg.Producer.MaxBackoff,
		PublishTimeout: cfg.Producer.PublishTimeout,
	}
}
