package storage

import "context"

// AIUsageStore tracks per-user daily AI companion quota counters keyed by
// a UTC date string (YYYY-MM-DD). Implementations: redis.Client,
// memory.Client (for -dev without Redis).
type AIUsageStore interface {
	// IncrMessages bumps the user's message counter for the day and
	// returns the new value.
	IncrMessages(ctx context.Context, userID, day string) (int64, error)
	// IncrImages bumps the user's image-analysis counter for the day and
	// returns the new value.
	IncrImages(ctx context.Context, userID, day string) (int64, error)
	// Counts returns the current counters without modifying them.
	Counts(ctx context.Context, userID, day string) (messages, images int64, err error)
	Close() error
}
