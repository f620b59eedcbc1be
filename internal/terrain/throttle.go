package terrain

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/CoreyShupe/BentoBox/internal/grid"
)

// Throttled limits how fast columns are fetched from the wrapped source.
// Metadata checks pass straight through.
type Throttled struct {
	src     Source
	limiter *rate.Limiter
}

// NewThrottled wraps src. perSec <= 0 disables the limit.
func NewThrottled(src Source, perSec float64, burst int) *Throttled {
	lim := rate.Limit(perSec)
	if perSec <= 0 {
		lim = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{src: src, limiter: rate.NewLimiter(lim, burst)}
}

func (t *Throttled) IsChunkMaterialized(c grid.Cell) bool {
	return t.src.IsChunkMaterialized(c)
}

func (t *Throttled) FetchColumn(ctx context.Context, c grid.Cell) (Column, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", c, err)
	}
	return t.src.FetchColumn(ctx, c)
}

// Router dispatches to a per-world source.
type Router map[string]Source

func (r Router) IsChunkMaterialized(c grid.Cell) bool {
	src, ok := r[c.World]
	return ok && src.IsChunkMaterialized(c)
}

func (r Router) FetchColumn(ctx context.Context, c grid.Cell) (Column, error) {
	src, ok := r[c.World]
	if !ok {
		return nil, fmt.Errorf("no terrain for world %q", c.World)
	}
	return src.FetchColumn(ctx, c)
}
