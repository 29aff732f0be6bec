package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coffeeshop/internal/config"
	"coffeeshop/internal/handler"
	"coffeeshop/internal/infrastructure/cache"
	"coffeeshop/internal/infrastructure/database"
	"coffeeshop/internal/infrastructure/mq"
	"coffeeshop/internal/job"
	"coffeeshop/internal/service"
	"coffeeshop/pkg/idgen"
	"coffeeshop/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	configPath := os.Getenv("COFFEESHOP_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return fmt.Errorf("init id generator: %w", err)
	}

	db, err := database.InitMySQL(&cfg.MySQL)
	if err != nil {
		return err
	}

	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	publisher, err := mq.InitKafka(&cfg.Kafka)
	if err != nil {
		return err
	}
	defer publisher.Close()

	catalog := service.NewCachedCatalog(db, redisClient, cfg.Business.ProductCacheTTL(), log)
	balance := service.NewBalanceService(db, log)
	loyalty := service.NewLoyaltyService(db, cfg, log)
	qr := service.NewQRService(db, cfg, balance, log)
	orders := service.NewOrderService(db, redisClient, cfg, balance, loyalty, catalog, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go job.NewOutboxSender(db, publisher, cfg, log).Start(ctx)
	go job.NewQRExpiryJob(qr, cfg, log).Start(ctx)
	go job.NewReconcileJob(qr, cfg, log).Start(ctx)

	router := handler.SetupRouter(cfg, handler.Services{
		Orders:  orders,
		Balance: balance,
		Loyalty: loyalty,
		QR:      qr,
	}, log)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}
