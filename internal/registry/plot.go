package registry

import (
	"time"

	"github.com/google/uuid"

	"github.com/CoreyShupe/BentoBox/internal/grid"
)

// Plot is one registered island. Its area is [center-range, center+range) on
// both x and z, at every height.
type Plot struct {
	ID        uuid.UUID  `json:"id"`
	World     string     `json:"world"`
	Center    grid.Cell  `json:"center"`
	Range     int        `json:"range"`
	Owner     uuid.UUID  `json:"owner"`
	Reserved  bool       `json:"reserved,omitempty"`
	Spawn     *grid.Cell `json:"spawn,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (p Plot) Contains(c grid.Cell) bool {
	if c.World != p.World {
		return false
	}
	return c.X >= p.Center.X-p.Range && c.X < p.Center.X+p.Range &&
		c.Z >= p.Center.Z-p.Range && c.Z < p.Center.Z+p.Range
}

// Overlaps reports whether a plot of the given range centred at c would share
// any block column with p.
func (p Plot) Overlaps(c grid.Cell, rng int) bool {
	if c.World != p.World {
		return false
	}
	return grid.AbsInt(c.X-p.Center.X) < p.Range+rng && grid.AbsInt(c.Z-p.Center.Z) < p.Range+rng
}

// Owned is false for plots recorded only to mark obstructed terrain.
func (p Plot) Owned() bool { return p.Owner != uuid.Nil }
