// Package config loads relay and board settings from an optional YAML file
// and the environment. Environment variables win over the file.
package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRelayPort = "9000"
	DefaultRelayURL  = "http://localhost:9000"
	DefaultChannel   = "relay-events"
	DefaultBoardID   = "default"
	DefaultCachePath = "board.sqlite3"
)

type Relay struct {
	Port                    string        `yaml:"port"`
	Debug                   bool          `yaml:"debug"`
	RedisConnectionString   string        `yaml:"redis_connection_string"`
	Channel                 string        `yaml:"channel"`
	SnapshotTTL             time.Duration `yaml:"snapshot_ttl"`
	StorageConnectionString string        `yaml:"storage_connection_string"`
	TasksTable              string        `yaml:"tasks_table"`
	BoardID                 string        `yaml:"board_id"`
}

type Board struct {
	RelayURL              string `yaml:"relay_url"`
	Debug                 bool   `yaml:"debug"`
	CachePath             string `yaml:"cache_path"`
	RedisConnectionString string `yaml:"redis_connection_string"`
}

type Config struct {
	Relay Relay `yaml:"relay"`
	Board Board `yaml:"board"`
}

// Load reads the file named by CONFIG_FILE, if set, then applies the
// environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"), os.LookupEnv)
}

// LoadFrom reads path (may be empty) and applies variables from lookup.
func LoadFrom(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Config{
		Relay: Relay{Port: DefaultRelayPort, Channel: DefaultChannel, BoardID: DefaultBoardID},
		Board: Board{RelayURL: DefaultRelayURL, CachePath: DefaultCachePath},
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	debug, err := boolEnv(lookup, "DEBUG")
	if err != nil {
		return Config{}, err
	}
	if debug != nil {
		cfg.Relay.Debug = *debug
		cfg.Board.Debug = *debug
	}
	setString(lookup, "RELAY_PORT", &cfg.Relay.Port)
	setString(lookup, "REDIS_CONNECTION_STRING", &cfg.Relay.RedisConnectionString)
	setString(lookup, "REDIS_CONNECTION_STRING", &cfg.Board.RedisConnectionString)
	setString(lookup, "RELAY_CHANNEL", &cfg.Relay.Channel)
	setString(lookup, "STORAGE_CONNECTION_STRING", &cfg.Relay.StorageConnectionString)
	setString(lookup, "TASKS_TABLE", &cfg.Relay.TasksTable)
	setString(lookup, "BOARD_ID", &cfg.Relay.BoardID)
	setString(lookup, "RELAY_URL", &cfg.Board.RelayURL)
	setString(lookup, "CACHE_PATH", &cfg.Board.CachePath)
	if v, ok := lookup("SNAPSHOT_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("invalid SNAPSHOT_TTL %q", v)
		}
		cfg.Relay.SnapshotTTL = d
	}
	return cfg, nil
}

// RedisOptions accepts either a redis:// URL or an Azure style
// "host:port,password=...,ssl=true" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, fmt.Errorf("empty redis connection string")
	}
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

func setString(lookup func(string) (string, bool), key string, dst *string) {
	if v, ok := lookup(key); ok && v != "" {
		*dst = v
	}
}

func boolEnv(lookup func(string) (string, bool), key string) (*bool, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return &b, nil
}
