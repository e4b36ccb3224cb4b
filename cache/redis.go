package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
	// Namespace prepended to every key, defaults to "header-replay:".
	KeyPrefix string
}

// Redis stores entries as Redis hashes. Expiry is delegated to Redis.
type Redis struct {
	client    *redis.Client
	keyPrefix string
	logger    zerolog.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, config RedisConfig, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", config.Addr).
		Int("db", config.DB).
		Msg("Connected to Redis cache")

	return newRedis(client, config.KeyPrefix, logger), nil
}

func newRedis(client *redis.Client, keyPrefix string, logger zerolog.Logger) *Redis {
	if keyPrefix == "" {
		keyPrefix = "header-replay:"
	}
	return &Redis{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

func (c *Redis) All(ctx context.Context, prefix string) ([]Entry, error) {
	entries := make([]Entry, 0)
	iter := c.client.Scan(ctx, 0, escapeGlob(c.keyPrefix+prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		entry, err := c.Get(ctx, strings.TrimPrefix(iter.Val(), c.keyPrefix))
		if err == ErrNotFound {
			continue
		} else if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
	return entries, iter.Err()
}

func (c *Redis) Get(ctx context.Context, key string) (Entry, error) {
	fields, err := c.client.HGetAll(ctx, c.keyPrefix+key).Result()
	if err != nil {
		return Entry{}, err
	}
	if len(fields) == 0 {
		return Entry{}, ErrNotFound
	}
	entry := Entry{
		Key:         key,
		Expires:     unixField(fields, "expires"),
		RequestedAt: unixField(fields, "requested_at"),
		ReceivedAt:  unixField(fields, "received_at"),
		Bytes:       []byte(fields["bytes"]),
	}
	if entry.Expired(time.Now()) {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (c *Redis) Put(ctx context.Context, e Entry) error {
	key := c.keyPrefix + e.Key
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"expires", e.Expires.Unix(),
			"requested_at", e.RequestedAt.Unix(),
			"received_at", e.ReceivedAt.Unix(),
			"bytes", e.Bytes,
		)
		pipe.ExpireAt(ctx, key, e.Expires)
		return nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("key", e.Key).Msg("Redis put failed")
	}
	return err
}

func (c *Redis) Purge(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.keyPrefix+key).Err()
}

// Close closes the Redis connection.
func (c *Redis) Close() error {
	return c.client.Close()
}

func unixField(fields map[string]string, name string) time.Time {
	sec, err := strconv.ParseInt(fields[name], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func escapeGlob(s string) string {
	return strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`).Replace(s)
}
