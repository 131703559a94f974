package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/config"
	"github.com/d60-Lab/feedsync/internal/api/handler"
	"github.com/d60-Lab/feedsync/internal/app"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/pkg/database"
	"github.com/d60-Lab/feedsync/pkg/logger"
	"github.com/d60-Lab/feedsync/pkg/monitor"
	"github.com/d60-Lab/feedsync/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg); err != nil {
		logger.Error("devtools exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flush, err := monitor.Init(cfg.Sentry)
	if err != nil {
		return err
	}
	defer flush()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(c)
	}()

	db, err := database.InitDB(cfg)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	backend := app.NewBackend(cfg, db, rdb, logger.L())
	stopBackend := backend.Start()
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := stopBackend(c); err != nil {
			logger.Warn("backend stop timed out", zap.Error(err))
		}
	}()

	client := backend.NewClient(monitor.CaptureWriteFailure)
	defer client.Close()
	if err := client.Home.Open(ctx, remote.GlobalScope); err != nil {
		logger.Warn("initial home load failed", zap.Error(err))
	}

	h := handler.New(handler.Deps{
		Session:   client.Session,
		Client:    client.Remote,
		Relations: backend.Relations,
		Home:      client.Home,
		Profile:   client.Profile,
		Chats:     client.Chats,
		Mentions:  client.Mentions,
	})
	srv := &http.Server{
		Addr:              cfg.Devtools.Addr,
		Handler:           handler.NewRouter(h, cfg.Tracing.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("devtools listening", zap.String("addr", cfg.Devtools.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	// 最多等 5 秒处理完在途请求
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(c)
}
