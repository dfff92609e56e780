package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/schuttebj/linc-print-backend/internal/api"
	"github.com/schuttebj/linc-print-backend/internal/api/middleware"
	"github.com/schuttebj/linc-print-backend/internal/config"
	"github.com/schuttebj/linc-print-backend/internal/core"
	"github.com/schuttebj/linc-print-backend/internal/db"
	"github.com/schuttebj/linc-print-backend/internal/maintenance"
	"github.com/schuttebj/linc-print-backend/internal/platform/logger"
	"github.com/schuttebj/linc-print-backend/internal/render"
	"github.com/schuttebj/linc-print-backend/internal/store"
	"github.com/schuttebj/linc-print-backend/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := db.Init(db.Config{Path: cfg.Database.Path}); err != nil {
		log.Fatal("failed to open database", "error", err)
	}
	defer db.Close()

	cardStore, err := store.New(cfg.Storage.CardsPath, log)
	if err != nil {
		log.Fatal("failed to open card store", "error", err)
	}

	sender := webhook.NewSender(webhook.Config{
		RetryCount:  cfg.Webhooks.RetryCount,
		RetryDelay:  cfg.Webhooks.RetryDelay,
		Timeout:     cfg.Webhooks.Timeout,
		WorkerCount: cfg.Webhooks.WorkerCount,
		QueueSize:   cfg.Webhooks.QueueSize,
	}, log)
	sender.Start()
	defer sender.Stop()

	renderer := render.NewCardRenderer()
	engine := core.NewEngine(db.GetDB(), cardStore, renderer, sender, log)

	sweeper := maintenance.NewSweeper(engine, cfg.Maintenance.SweepInterval, log)
	sweeper.Start()
	defer sweeper.Stop()

	auth, err := middleware.NewAuthMiddleware()
	if err != nil {
		log.Fatal("failed to init auth", "error", err)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(engine, cardStore, sweeper, auth)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", "error", err)
	}
}
