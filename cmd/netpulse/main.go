package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"netpulse/internal/cache"
	"netpulse/internal/config"
	"netpulse/internal/eventlog"
	"netpulse/internal/handlers"
	"netpulse/internal/metrics"
	"netpulse/internal/session"
	"netpulse/internal/stream"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	log.Println("Starting network monitor...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events, err := eventlog.New(eventlog.Options{
		FilePath:   cfg.LogFile,
		LogSamples: cfg.LogSamples,
	})
	if err != nil {
		log.Fatalf("Failed to open event log: %v", err)
	}
	defer events.Close()

	publishers := []session.Publisher{events, metrics.Publisher{}}

	// Redis необязателен: без него события живут только в памяти сеанса
	var store handlers.EventStore
	if cfg.RedisAddr != "" {
		redisStore, err := cache.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.EventRetention)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisStore.Close()
		log.Println("Connected to Redis")

		store = redisStore
		publishers = append(publishers, redisStore)
	}

	hub := stream.NewHub()
	go hub.Run(ctx)
	publishers = append(publishers, hub)

	ctrl := session.NewController(ctx, cfg, session.Deps{Publishers: publishers})
	if _, err := ctrl.Start(cfg); err != nil {
		log.Fatalf("Failed to start monitoring: %v", err)
	}
	defer ctrl.Stop()

	handler := handlers.NewHandler(ctrl, store)

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("/stream", hub)
	mux.Handle("/prometheus", promhttp.Handler())

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server listening on port %s\n", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	ctrl.Stop()

	log.Println("Server stopped gracefully")
}
