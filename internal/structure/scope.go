package structure

import (
	"context"
	"log/slog"
)

// Scope runs fn with a fresh cache and releases it when fn returns or
// panics, logging the approximate size that was freed.
func Scope(ctx context.Context, logger *slog.Logger, fn func(*Cache) error) error {
	c := New()
	defer func() {
		size := c.Release()
		logger.InfoContext(ctx, "released catalog structure cache", slog.Int("approx_size_bytes", size))
	}()
	return fn(c)
}
