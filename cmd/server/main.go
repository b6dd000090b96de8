package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/railgrid/server/internal/config"
	"github.com/railgrid/server/internal/httpapi"
	"github.com/railgrid/server/internal/hub"
	"github.com/railgrid/server/internal/lifecycle"
	"github.com/railgrid/server/internal/logger"
	"github.com/railgrid/server/internal/rules"
	"github.com/railgrid/server/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config", zap.Error(err))
	}
	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eval := rules.NewRail()
	h := hub.New(ctx, st, eval, log)
	manager := lifecycle.NewManager(st, h, eval, log)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(manager, []byte(cfg.JWTSecret), log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		h.Inbox() <- hub.ShutdownHub{}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server", zap.Error(err))
	}
	log.Info("shut down cleanly")
}
