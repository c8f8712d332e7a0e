package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/broker"
	"checkout-service/internal/gateway"
	"checkout-service/internal/mailer"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer("checkout-service", cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicEvents))

	eventPublisher := broker.NewEventPublisher(producer)

	if cfg.Stripe.SecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY is not set, gateway calls will fail")
	}
	stripeGateway := gateway.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)

	dispatcher, err := mailer.NewDispatcher(
		mailer.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Pass),
		db,
		mailer.Config{
			From:         cfg.SMTP.From,
			FromName:     cfg.SMTP.FromName,
			AdminEmail:   cfg.Business.AdminEmail,
			SupportEmail: cfg.Business.SupportEmail,
			FrontendURL:  cfg.Business.FrontendURL,
		},
	)
	if err != nil {
		logger.Fatal("Failed to initialize mailer", zap.Error(err))
	}

	orderService := service.NewOrderService(db, db, db, eventPublisher)
	paymentService := service.NewPaymentService(db, db, stripeGateway, dispatcher, eventPublisher, service.PaymentConfig{
		FrontendURL:  cfg.Business.FrontendURL,
		OverdueGrace: time.Duration(cfg.Business.OverdueGraceDays) * 24 * time.Hour,
	})
	webhookReconciler := service.NewWebhookReconciler(paymentService, db)
	leadService := service.NewLeadService(db, eventPublisher, dispatcher, redisClient, cfg.Business.LeadRateLimit)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	leadConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
	leadWorker := worker.NewLeadNotificationWorker(leadConsumer, leadService.HandleLeadCaptured)
	go func() {
		if err := leadWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Lead notification worker error", zap.Error(err))
		}
	}()

	sweeper, err := worker.NewPaymentSweeper(paymentService, redisClient, cfg.Business.PaymentCron, cfg.Business.CronTimezone)
	if err != nil {
		logger.Fatal("Failed to configure payment sweeper", zap.Error(err))
	}
	if err := sweeper.Start(workerCtx); err != nil {
		logger.Fatal("Failed to start payment sweeper", zap.Error(err))
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := api.NewHandler(orderService, paymentService, webhookReconciler, leadService, api.Options{
		AdminAPIKey: cfg.Server.AdminAPIKey,
		CORSOrigins: cfg.Server.CORSOrigins,
		Checks: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
	})
	router := api.NewRouter(handler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	sweeper.Stop()
	workerCancel()
	if err := leadWorker.Stop(); err != nil {
		logger.Warn("Error stopping lead worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
