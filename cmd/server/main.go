package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Omwansam/furniture-backend/config"
	"github.com/Omwansam/furniture-backend/internal/api"
	"github.com/Omwansam/furniture-backend/internal/broker"
	"github.com/Omwansam/furniture-backend/internal/mpesa"
	"github.com/Omwansam/furniture-backend/internal/pricing"
	"github.com/Omwansam/furniture-backend/internal/redisclient"
	"github.com/Omwansam/furniture-backend/internal/service"
	"github.com/Omwansam/furniture-backend/internal/store"
	"github.com/Omwansam/furniture-backend/internal/util"
	"github.com/Omwansam/furniture-backend/internal/worker"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting furniture backend")

	tp, err := util.InitTracer("furniture-backend", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	mpesaClient := mpesa.NewClient(mpesa.Config{
		BaseURL:        cfg.Payment.BaseURL,
		ConsumerKey:    cfg.Payment.ConsumerKey,
		ConsumerSecret: cfg.Payment.ConsumerSecret,
		Shortcode:      cfg.Payment.Shortcode,
		Passkey:        cfg.Payment.Passkey,
		CallbackURL:    cfg.Payment.CallbackURL,
		AuthTimeout:    cfg.Payment.AuthTimeout,
		STKTimeout:     cfg.Payment.STKTimeout,
	})

	pricer := pricing.NewEngine(cfg.Pricing.ShippingBase, cfg.Pricing.ShippingPerItem)

	paymentService := service.NewPaymentService(db, redisClient, mpesaClient, eventPublisher, cfg.Payment.CallbackBudget)
	checkoutService := service.NewCheckoutService(db, pricer, paymentService, eventPublisher, cfg.Payment.CheckoutBudget)
	orderService := service.NewOrderService(db, eventPublisher)
	refundService := service.NewRefundService(db, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	sweeper := worker.NewPaymentSweeper(db, paymentService, cfg.Payment.SweepInterval, cfg.Payment.PendingExpiry)
	go sweeper.Start(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(checkoutService, orderService, paymentService, refundService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	sweeper.Stop()

	log.Println("Server exited")
}
