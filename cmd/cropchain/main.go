package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/iurnickita/cropchain/internal/auth"
	"github.com/iurnickita/cropchain/internal/config"
	"github.com/iurnickita/cropchain/internal/handler"
	"github.com/iurnickita/cropchain/internal/logger"
	"github.com/iurnickita/cropchain/internal/service"
	"github.com/iurnickita/cropchain/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.GetConfig()

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	store, err := store.NewStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	auth := auth.NewAuth(cfg.Auth)
	service, err := service.NewService(cfg.Service, store, zaplog)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return handler.Serve(ctx, cfg.Handler, auth, service, zaplog)
}
