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

	"kanshi/config"
	"kanshi/internal/api"
	"kanshi/internal/conditions"
	"kanshi/internal/db"
	"kanshi/internal/maintenance"
	"kanshi/internal/model"
	"kanshi/internal/notification"
	"kanshi/internal/store"

	"github.com/SherClockHolmes/webpush-go"
)

func main() {
	logger := log.New(os.Stdout, "kanshid ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	loc := cfg.Dashboard.Location()
	machines := model.MachineIDs(cfg.Dashboard.Machines)

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	if err := appStore.EnsureMachines(ctx, machines); err != nil {
		logger.Fatalf("failed to register machines: %v", err)
	}
	logger.Printf("data store initialized with %d machines", len(machines))

	opts := []conditions.Option{conditions.WithResetHour(cfg.Maintenance.ResetHour)}

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions, model.LabelsFrom(cfg.Dashboard.Labels))
		workerPool.Start(ctx)
		opts = append(opts, conditions.WithNotifier(workerPool))
	} else {
		logger.Println("VAPID keys are not configured; push notifications are disabled")
	}

	svc := conditions.NewService(appStore, loc, machines, opts...)

	maintenanceSvc := maintenance.NewService(appStore, cfg.Maintenance, loc, nil)
	go maintenanceSvc.Run(ctx)

	router := api.NewRouter(cfg.Server, appStore, svc, webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
