package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dahch/task-board-sync/internal/config"
	"github.com/dahch/task-board-sync/relay/api"
	"github.com/dahch/task-board-sync/relay/hub"
	relaystorage "github.com/dahch/task-board-sync/relay/storage"
	"github.com/dahch/task-board-sync/relay/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Relay.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rc *redis.Client
	if cfg.Relay.RedisConnectionString != "" {
		redisOpts, err := config.RedisOptions(cfg.Relay.RedisConnectionString)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(redisOpts)
		defer rc.Close()
	}

	store, err := snapshotStore(cfg.Relay, rc)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	instanceID := uuid.NewString()
	opts := hub.Options{Logger: logger, Store: store}
	if rc != nil {
		opts.Publisher = subscription.NewPublisher(rc, cfg.Relay.Channel, instanceID)
	}
	h := hub.New(opts)
	if err := h.Restore(ctx); err != nil {
		log.WithError(err).Warn("could not restore canonical snapshot")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
	api.Register(e, h, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(log.Fields{"port": cfg.Relay.Port, "instance": instanceID}).Info("relay listening")
		if err := e.Start(":" + cfg.Relay.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if rc != nil {
		g.Go(func() error {
			subscription.SubscribeUpdates(ctx, logger, rc, cfg.Relay.Channel, instanceID, h.Deliver)
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("relay: %v", err)
	}
}

func snapshotStore(cfg config.Relay, rc *redis.Client) (relaystorage.Store, error) {
	var base relaystorage.Store
	if cfg.StorageConnectionString != "" && cfg.TasksTable != "" {
		tables, err := relaystorage.NewTables(cfg.StorageConnectionString, cfg.TasksTable, cfg.BoardID)
		if err != nil {
			return nil, err
		}
		base = tables
	}
	switch {
	case rc != nil:
		return relaystorage.NewCache(base, rc, relaystorage.DefaultKey+":"+cfg.BoardID, cfg.SnapshotTTL), nil
	case base != nil:
		return base, nil
	default:
		log.Warn("no snapshot storage configured, keeping snapshot in memory")
		return relaystorage.NewMemory(), nil
	}
}
