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
	"go.uber.org/zap"

	"placementmail/internal/config"
	"placementmail/internal/handler"
	"placementmail/internal/logging"
	"placementmail/internal/queue"
	"placementmail/internal/repository"
	"placementmail/internal/service"
)

var version = "dev"

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
		logger.Error("api server stopped", zap.Error(err))
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

	campaignRepo := repository.NewCampaignRepository(db)
	jobRepo := repository.NewJobRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)
	directory := repository.NewApplicantRepository(db)

	// Dispatch signals are optional: without RabbitMQ workers find new jobs
	// on their next poll.
	var notifier service.DispatchNotifier
	if rabbitURL := cfg.GetRabbitMQURL(); rabbitURL != "" {
		conn, err := queue.NewConnection(rabbitURL, logger)
		if err != nil {
			logger.Warn("rabbitmq unavailable, dispatch signals disabled", zap.Error(err))
		} else {
			defer conn.Close()
			publisher, err := queue.NewPublisher(conn, cfg.RabbitMQ.Queue)
			if err != nil {
				return err
			}
			notifier = publisher
			logger.Info("publishing dispatch signals", zap.String("queue", cfg.RabbitMQ.Queue))
		}
	}

	templateSvc := service.NewTemplateService()
	campaignSvc := service.NewCampaignService(
		campaignRepo,
		jobRepo,
		deliveryRepo,
		service.NewRecipientResolver(directory, logger),
		templateSvc,
		service.NewCampaignTracker(campaignRepo, jobRepo, logger),
		notifier,
		logger,
	)

	router := handler.NewRouter(
		handler.NewCampaignHandler(campaignSvc, logger),
		handler.NewPreviewHandler(campaignSvc, logger),
		handler.NewHealthHandler(service.NewHealthService(db, cfg.GetRabbitMQURL(), version)),
		logger,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Env),
			zap.String("version", version),
		)
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

	logger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
