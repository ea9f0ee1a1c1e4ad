package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Quota keys live slightly longer than a day so a client in a trailing
// timezone still sees its counters; the day is part of the key, so stale
// keys only cost memory, never correctness.
const usageTTL = 48 * time.Hour

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func msgKey(userID, day string) string { return "ai_usage:" + day + ":" + userID + ":msg" }
func imgKey(userID, day string) string { return "ai_usage:" + day + ":" + userID + ":img" }

func (c *Client) incr(ctx context.Context, key string) (int64, error) {
	n, err := c.cli.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		c.cli.Expire(ctx, key, usageTTL)
	}
	return n, nil
}

// IncrMessages bumps ai_usage:{day}:{user}:msg and returns the new count.
func (c *Client) IncrMessages(ctx context.Context, userID, day string) (int64, error) {
	return c.incr(ctx, msgKey(userID, day))
}

// IncrImages bumps ai_usage:{day}:{user}:img and returns the new count.
func (c *Client) IncrImages(ctx context.Context, userID, day string) (int64, error) {
	return c.incr(ctx, imgKey(userID, day))
}

// Counts reads both counters; a missing key reads as zero.
func (c *Client) Counts(ctx context.Context, userID, day string) (int64, int64, error) {
	msgs, err := c.cli.Get(ctx, msgKey(userID, day)).Int64()
	if err != nil && err != redis.Nil {
		return 0, 0, err
	}
	imgs, err := c.cli.Get(ctx, imgKey(userID, day)).Int64()
	if err != nil && err != redis.Nil {
		return 0, 0, err
	}
	return msgs, imgs, nil
}
