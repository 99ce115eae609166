package chunk

import (
	"context"
	"time"
)

// Generator produces the content of chunks.
type Generator interface {
	// Generates the chunk content. Implementations should return early when
	// the chunk is no longer active or ctx is done.
	Generate(ctx context.Context, c *Chunk) error
}

// GeneratorFunc is a function that satisfies the Generator interface.
type GeneratorFunc func(ctx context.Context, c *Chunk) error

func (f GeneratorFunc) Generate(ctx context.Context, c *Chunk) error {
	return f(ctx, c)
}

// DelayGenerator simulates generation work by waiting a fixed time per chunk
// kind.
type DelayGenerator struct {
	Detail time.Duration
	Proxy  time.Duration
}

func (g DelayGenerator) Generate(ctx context.Context, c *Chunk) error {
	d := g.Proxy
	if c.Kind == KindDetail {
		d = g.Detail
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
