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
	"kanshi/internal/history"
	"kanshi/internal/loop"
	"kanshi/internal/model"
	"kanshi/internal/poller"
	"kanshi/internal/session"
	"kanshi/internal/upstream"
	"kanshi/internal/web"
)

func main() {
	logger := log.New(os.Stdout, "dashboard ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	d := cfg.Dashboard
	machines := model.MachineIDs(d.Machines)
	labels := model.LabelsFrom(d.Labels)
	loc := d.Location()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := upstream.NewClient(d)

	liveLoop := loop.New(0)
	live := session.New(session.Options{
		Machines:   machines,
		Location:   loc,
		Scheduler:  liveLoop,
		Labels:     labels,
		StaleAfter: d.StaleAfter,
	})
	historyLoop := loop.New(0)
	past := session.New(session.Options{
		Machines:  machines,
		Location:  loc,
		Scheduler: historyLoop,
		Labels:    labels,
	})

	go liveLoop.Run(ctx)
	go historyLoop.Run(ctx)
	liveLoop.Post(live.StartClock)

	condPoller := poller.New(live, client, d.PollInterval)
	go condPoller.Run(ctx)

	loader := history.NewLoader(past, client)
	go loader.Run(ctx)

	hub := web.NewHub(live.Board)
	go hub.Run(ctx)

	router := web.NewRouter(cfg.Server, web.NewHandler(live.Board, past.Board, loader, hub))
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", d.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("dashboard starting on port %d (upstream %s)", d.Port, d.UpstreamURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping sessions...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	closeSession(shutdownCtx, liveLoop, live)
	closeSession(shutdownCtx, historyLoop, past)
	cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Dashboard gracefully stopped")
}

// closeSession tears a session down on its own loop and waits for it.
func closeSession(ctx context.Context, l *loop.Loop, s *session.Session) {
	done := make(chan struct{})
	l.Post(func() {
		s.Close()
		close(done)
	})
	select {
	case <-done:
	case <-ctx.Done():
	}
}
