package terrain

import (
	"context"
	"fmt"
	"log"

	"github.com/CoreyShupe/BentoBox/internal/grid"
	"github.com/CoreyShupe/BentoBox/internal/registry"
)

type layer struct {
	dy       int
	radius   int
	material Material
}

// Bundles maps a bundle name to the layers pasted around an island centre,
// bottom first.
var Bundles = map[string][]layer{
	"default": {
		{dy: -3, radius: 0, material: Bedrock},
		{dy: -2, radius: 2, material: Dirt},
		{dy: -1, radius: 3, material: Grass},
	},
	"sand": {
		{dy: -3, radius: 0, material: Bedrock},
		{dy: -2, radius: 2, material: Stone},
		{dy: -1, radius: 3, material: Sand},
	},
}

// PlatformPaster writes a starter platform into a Store. Pasting runs on its
// own goroutine and reports through done.
type PlatformPaster struct {
	Store *Store
	Log   *log.Logger
}

func (p *PlatformPaster) Paste(ctx context.Context, plot registry.Plot, bundle string, done func(spawn *grid.Cell, err error)) {
	go func() {
		spawn, err := p.paste(ctx, plot, bundle)
		if err != nil && p.Log != nil {
			p.Log.Printf("paste %s bundle=%s: %v", plot.Center, bundle, err)
		}
		done(spawn, err)
	}()
}

func (p *PlatformPaster) paste(ctx context.Context, plot registry.Plot, bundle string) (*grid.Cell, error) {
	layers, ok := Bundles[bundle]
	if !ok {
		return nil, fmt.Errorf("unknown bundle %q", bundle)
	}
	c := plot.Center
	for _, l := range layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for dx := -l.radius; dx <= l.radius; dx++ {
			for dz := -l.radius; dz <= l.radius; dz++ {
				p.Store.SetBlock(c.Offset(dx, l.dy, dz), l.material)
			}
		}
	}
	spawn := c
	return &spawn, nil
}

// Clear sets every block any bundle could have pasted around the plot centre
// back to air. It ignores cancellation: a half-cleared island would keep
// its area marked for good.
func (p *PlatformPaster) Clear(_ context.Context, plot registry.Plot, done func(err error)) {
	go func() {
		c := plot.Center
		for _, layers := range Bundles {
			for _, l := range layers {
				for dx := -l.radius; dx <= l.radius; dx++ {
					for dz := -l.radius; dz <= l.radius; dz++ {
						pt := c.Offset(dx, l.dy, dz)
						if !p.Store.GetBlock(pt).IsEmpty() {
							p.Store.SetBlock(pt, Air)
						}
					}
				}
			}
		}
		done(nil)
	}()
}
