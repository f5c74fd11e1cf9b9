package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/dmquang/docchat/internal/adapters/http"
	"github.com/dmquang/docchat/internal/bootstrap"
	"github.com/dmquang/docchat/internal/config"
	"github.com/dmquang/docchat/internal/core/domain"
	"github.com/dmquang/docchat/internal/observability/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	var cacheAdmin httpadapter.CacheAdmin
	if app.Cache != nil {
		cacheAdmin = app.Cache
	}

	router := httpadapter.NewRouter(
		app.Retriever,
		app.AnswerUC,
		app.IngestUC,
		app.RemoveUC,
		app.Repo,
		cacheAdmin,
		app.Metrics,
		httpadapter.Options{
			DefaultTopK:    cfg.RetrievalTopK,
			DefaultSpace:   domain.SpaceText,
			RateLimitRPS:   cfg.RateLimitRPS,
			RateLimitBurst: cfg.RateLimitBurst,
			MaxInFlight:    64,
		},
	).Handler()

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_error", "error", err)
	}
}
