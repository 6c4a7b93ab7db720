package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"placementmail/internal/circuitbreaker"
	"placementmail/internal/config"
	"placementmail/internal/logging"
	"placementmail/internal/mailer"
	"placementmail/internal/metrics"
	"placementmail/internal/queue"
	"placementmail/internal/ratelimit"
	"placementmail/internal/repository"
	"placementmail/internal/service"
	"placementmail/internal/worker"
)

func main() {
	os.Exit(start())
}

// start returns the process exit code so deferred cleanup runs before exit
func start() int {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fallback().Error("failed to load config", zap.Error(err))
		return 1
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		logging.Fallback().Error("failed to build logger", zap.Error(err))
		return 1
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		return 1
	}
	return 0
}

func run(cfg *config.Config, logger *zap.Logger) error {
	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return err
	}
	logger.Info("connected to database", zap.String("host", cfg.Database.Host))

	transport, closeTransport, err := newTransport(cfg)
	if err != nil {
		return err
	}
	defer closeTransport()

	limiter := newLimiter(cfg, logger)

	var sink metrics.Sink = metrics.NoopSink{}
	if cfg.Metrics.Enabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, logger)
	}

	campaignRepo := repository.NewCampaignRepository(db)
	jobRepo := repository.NewJobRepository(db)
	tracker := service.NewCampaignTracker(campaignRepo, jobRepo, logger)

	pool := worker.New(worker.Config{
		Concurrency:   cfg.Worker.Concurrency,
		MaxAttempts:   cfg.Worker.MaxAttempts,
		BaseBackoff:   cfg.Worker.BaseBackoff,
		MaxBackoff:    cfg.Worker.MaxBackoff,
		LeaseDuration: cfg.Worker.LeaseDuration,
		PollInterval:  cfg.Worker.PollInterval,
		SendTimeout:   cfg.Worker.SendTimeout,
	}, worker.Deps{
		Queue:     jobRepo,
		Audit:     repository.NewDeliveryRepository(db),
		Templates: campaignRepo,
		Tracker:   tracker,
		Renderer:  service.NewTemplateService(),
		Transport: transport,
		Limiter:   limiter,
		Breaker:   circuitbreaker.New(cfg.Breaker.Threshold, cfg.Breaker.Cooldown),
		Metrics:   sink,
		Logger:    logger.Named("pool"),
	})

	sweeper := worker.NewSweeper(jobRepo, campaignRepo, tracker, cfg.Sweeper.Interval, sink, logger.Named("sweeper"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return sweeper.Run(ctx) })

	if rabbitURL := cfg.GetRabbitMQURL(); rabbitURL != "" {
		consumer, conn, err := newSignalConsumer(rabbitURL, cfg.RabbitMQ.Queue, pool, logger)
		if err != nil {
			logger.Warn("rabbitmq unavailable, relying on polling", zap.Error(err))
		} else {
			defer conn.Close()
			if err := consumer.Start(ctx); err != nil {
				logger.Warn("dispatch signal consumer failed to start", zap.Error(err))
			} else {
				defer consumer.Stop()
			}
		}
	}

	if cfg.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsHandler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics server starting", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("worker started",
		zap.String("mail_driver", cfg.Mail.Driver),
		zap.Float64("rate_per_second", cfg.Worker.RatePerSecond),
	)
	err = g.Wait()
	logger.Info("worker stopped")
	return err
}

func newTransport(cfg *config.Config) (mailer.Transport, func(), error) {
	if cfg.Mail.Driver == "smtp" {
		t, err := mailer.NewSMTPTransport(cfg.Mail.SMTPURL, cfg.Mail.FromAddress, cfg.Mail.FromName, cfg.Worker.Concurrency)
		if err != nil {
			return nil, nil, err
		}
		return t, func() { t.Close() }, nil
	}
	return mailer.NewSimulatedTransport(cfg.Mail.SimulatedSuccessRate, time.Now().UnixNano()), func() {}, nil
}

// newLimiter shares the send budget through Redis when configured, so
// every worker process draws from one budget.
func newLimiter(cfg *config.Config, logger *zap.Logger) ratelimit.Limiter {
	local := ratelimit.NewLocal(cfg.Worker.RatePerSecond, cfg.Worker.RateBurst)
	if cfg.Redis.Addr == "" {
		return local
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	logger.Info("using shared send budget", zap.String("redis", cfg.Redis.Addr))
	return ratelimit.NewRedisWindow(client, cfg.Redis.KeyPrefix, cfg.Worker.RatePerSecond, local)
}

// newSignalConsumer wakes the pool whenever the API enqueues a campaign
func newSignalConsumer(url, queueName string, pool *worker.Pool, logger *zap.Logger) (*queue.Consumer, *queue.Connection, error) {
	conn, err := queue.NewConnection(url, logger)
	if err != nil {
		return nil, nil, err
	}

	consumer, err := queue.NewConsumer(conn, queueName, func(ctx context.Context, sig queue.DispatchSignal) error {
		logger.Debug("dispatch signal received",
			zap.Int("campaign_id", sig.CampaignID),
			zap.Int("jobs", sig.Jobs),
		)
		pool.Wake()
		return nil
	}, logger.Named("consumer"))
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	return consumer, conn, nil
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
