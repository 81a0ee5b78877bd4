package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dahch/task-board-sync/client"
	"github.com/dahch/task-board-sync/domain"
	"github.com/dahch/task-board-sync/internal/config"
	"github.com/dahch/task-board-sync/storage"
)

type options struct {
	relayURL  string
	cachePath string
	redisConn string
	debug     bool
	timeout   time.Duration
	settle    time.Duration

	logger *log.Logger
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "board",
		Short:         "Collaborative task board client",
		Long:          `Work on a shared task board from the terminal. Changes sync live through the relay.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.complete(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&o.relayURL, "relay", "", "Relay origin (default from RELAY_URL)")
	flags.StringVar(&o.cachePath, "cache", "", "SQLite cache file (default from CACHE_PATH)")
	flags.StringVar(&o.redisConn, "redis", "", "Redis connection string; replaces the SQLite cache")
	flags.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	flags.DurationVar(&o.timeout, "timeout", 10*time.Second, "How long to wait for the relay")
	flags.DurationVar(&o.settle, "settle", 500*time.Millisecond, "How long to wait for the board snapshot after connecting")

	root.AddCommand(
		newWatchCmd(o),
		newListCmd(o),
		newAddCmd(o),
		newMoveCmd(o),
		newEditCmd(o),
		newDeleteCmd(o),
		newUsersCmd(o),
	)
	return root
}

func (o *options) complete(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if !flags.Changed("relay") {
		o.relayURL = cfg.Board.RelayURL
	}
	if !flags.Changed("cache") {
		o.cachePath = cfg.Board.CachePath
	}
	if !flags.Changed("redis") {
		o.redisConn = cfg.Board.RedisConnectionString
	}
	if !flags.Changed("debug") {
		o.debug = cfg.Board.Debug
	}

	o.logger = log.New()
	o.logger.SetOutput(os.Stderr)
	o.logger.SetLevel(log.WarnLevel)
	if o.debug {
		o.logger.SetLevel(log.DebugLevel)
	}
	return nil
}

func (o *options) openCache() (storage.Cache, error) {
	if o.redisConn != "" {
		redisOpts, err := config.RedisOptions(o.redisConn)
		if err != nil {
			return nil, err
		}
		rc := redis.NewClient(redisOpts)
		return &redisCache{Redis: storage.NewRedis(rc), rc: rc}, nil
	}
	return storage.NewSQLite(o.cachePath)
}

// redisCache owns the client it was built with.
type redisCache struct {
	*storage.Redis
	rc *redis.Client
}

func (r *redisCache) Close() error { return r.rc.Close() }

// notifyCache signals every snapshot the client writes through.
type notifyCache struct {
	storage.Cache
	stored chan struct{}
}

func (n *notifyCache) Store(ctx context.Context, tasks []domain.Task) error {
	err := n.Cache.Store(ctx, tasks)
	select {
	case n.stored <- struct{}{}:
	default:
	}
	return err
}

type session struct {
	client *client.Client
	cache  storage.Cache
}

var errUnreachable = errors.New("relay unreachable")

// connect starts a client, waits for the handshake and then for the relay's
// snapshot, or until the settle window passes when the relay holds none.
func (o *options) connect(ctx context.Context) (*session, error) {
	cache, err := o.openCache()
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	nc := &notifyCache{Cache: cache, stored: make(chan struct{}, 1)}
	c, err := client.New(client.Options{URL: o.relayURL, Cache: nc, Logger: o.logger})
	if err != nil {
		_ = cache.Close()
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		_ = cache.Close()
		return nil, err
	}
	s := &session{client: c, cache: cache}

	sub := c.Subscribe()
	defer sub.Cancel()
	timeout := time.NewTimer(o.timeout)
	defer timeout.Stop()
wait:
	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				s.close()
				return nil, errUnreachable
			}
			if snap.State == client.Connected {
				break wait
			}
		case <-timeout.C:
			s.close()
			return nil, fmt.Errorf("%w: %s", errUnreachable, o.relayURL)
		case <-ctx.Done():
			s.close()
			return nil, ctx.Err()
		}
	}

	select {
	case <-nc.stored:
	case <-time.After(o.settle):
	case <-ctx.Done():
	}
	return s, nil
}

func (s *session) close() {
	s.client.Stop()
	_ = s.cache.Close()
}
