package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"kycchain/internal/api"
	"kycchain/internal/auth"
	"kycchain/internal/cache"
	"kycchain/internal/config"
	"kycchain/internal/db"
	"kycchain/internal/ledger"
	"kycchain/internal/logger"
	"kycchain/internal/notify"
	"kycchain/internal/service"
	"kycchain/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	zlog := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer zlog.Sync()

	database, err := db.Open(cfg.DBDriver, cfg.DBPath, cfg.DBDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	if err != nil {
		zlog.Fatal("open db", zap.Error(err))
	}
	defer database.Close()
	if err := db.ApplyMigrationFile(database, "migrations/001_init.sql"); err != nil {
		zlog.Fatal("migration", zap.Error(err))
	}

	st := store.New(database, cfg.DBDriver)
	if cfg.BootstrapAdminEmail != "" && cfg.BootstrapAdminPassword != "" {
		hash, err := auth.HashPassword(cfg.BootstrapAdminPassword)
		if err != nil {
			zlog.Fatal("bootstrap admin hash", zap.Error(err))
		}
		if err := st.EnsureAdmin(context.Background(), cfg.BootstrapAdminEmail, hash); err != nil {
			zlog.Fatal("bootstrap admin create", zap.Error(err))
		}
	}

	var resolveCache *cache.Cache
	if cfg.RedisAddr != "" {
		resolveCache, err = cache.New(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ResolveCacheTTL)
		if err != nil {
			zlog.Fatal("redis", zap.Error(err))
		}
		defer resolveCache.Close()
	}

	sender := notify.NewSender(cfg, zlog)
	svc := service.New(cfg, st, ledger.NewChain(), sender, resolveCache, zlog)
	r := api.NewRouter(cfg, svc, zlog)

	hsrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadTimeout:       time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTPReadHeaderTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		zlog.Info("listening", zap.String("addr", cfg.ListenAddr))
		errc <- hsrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server", zap.Error(err))
		}
	case <-ctx.Done():
		zlog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := hsrv.Shutdown(shutdownCtx); err != nil {
			zlog.Warn("shutdown", zap.Error(err))
		}
	}
}
