package memory

import (
	"context"
	"sync"
	"time"
)

const usageTTL = 48 * time.Hour

type counters struct {
	messages int64
	images   int64
	exp      time.Time
}

// Client is an in-process AIUsageStore for -dev runs without Redis.
type Client struct {
	mu    sync.Mutex
	usage map[string]*counters // key: day + ":" + userID
}

func New() *Client {
	return &Client{usage: make(map[string]*counters)}
}

func (c *Client) Close() error { return nil }

func (c *Client) get(userID, day string) *counters {
	key := day + ":" + userID
	v, ok := c.usage[key]
	if !ok || time.Now().After(v.exp) {
		v = &counters{exp: time.Now().Add(usageTTL)}
		c.usage[key] = v
	}
	return v
}

func (c *Client) IncrMessages(ctx context.Context, userID, day string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.get(userID, day)
	v.messages++
	return v.messages, nil
}

func (c *Client) IncrImages(ctx context.Context, userID, day string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.get(userID, day)
	v.images++
	return v.images, nil
}

func (c *Client) Counts(ctx context.Context, userID, day string) (int64, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.get(userID, day)
	return v.messages, v.images, nil
}
