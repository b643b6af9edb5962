package assignee

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// groupEntry is the cached value for one group
type groupEntry struct {
	Members  []string  `json:"members"`
	CachedAt time.Time `json:"cached_at"`
}

// CachedDirectory puts a Redis cache in front of a slow Directory.
// Redis failures fall through to the wrapped directory.
type CachedDirectory struct {
	client *redis.Client
	next   Directory
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewCachedDirectory connects to redisURL and wraps next
func NewCachedDirectory(redisURL string, next Directory, ttl time.Duration) (*CachedDirectory, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewCachedDirectoryWithClient(client, next, ttl), nil
}

// NewCachedDirectoryWithClient wraps next using an existing Redis client
func NewCachedDirectoryWithClient(client *redis.Client, next Directory, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedDirectory{
		client: client,
		next:   next,
		ttl:    ttl,
		prefix: "group:",
		logger: slog.Default(),
	}
}

func (c *CachedDirectory) key(group string) string {
	return c.prefix + group
}

func (c *CachedDirectory) UsersInGroup(ctx context.Context, group string) ([]string, error) {
	raw, err := c.client.Get(ctx, c.key(group)).Result()
	switch {
	case err == nil:
		var entry groupEntry
		if jsonErr := json.Unmarshal([]byte(raw), &entry); jsonErr == nil {
			return entry.Members, nil
		}
		c.logger.Warn("discarding unreadable group cache entry", "group", group)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("group cache unavailable", "group", group, "error", err)
	}

	members, err := c.next.UsersInGroup(ctx, group)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(groupEntry{Members: members, CachedAt: time.Now()})
	if err != nil {
		return nil, fmt.Errorf("marshal group entry: %w", err)
	}
	if err := c.client.Set(ctx, c.key(group), data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache group members", "group", group, "error", err)
	}
	return members, nil
}

// Invalidate drops the cached members of group
func (c *CachedDirectory) Invalidate(ctx context.Context, group string) error {
	if err := c.client.Del(ctx, c.key(group)).Err(); err != nil {
		return fmt.Errorf("invalidate group %s: %w", group, err)
	}
	return nil
}

// Close closes the Redis connection
func (c *CachedDirectory) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *CachedDirectory) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
