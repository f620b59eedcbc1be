package grid

import "fmt"

// Cell is a block coordinate inside one world. Cells are values; moving along
// the grid always produces a new Cell.
type Cell struct {
	World string
	X     int
	Y     int
	Z     int
}

func (c Cell) Offset(dx, dy, dz int) Cell {
	return Cell{World: c.World, X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
}

func (c Cell) String() string {
	return fmt.Sprintf("%s(%d,%d,%d)", c.World, c.X, c.Y, c.Z)
}

// Next returns the cell after prev on an outward clockwise square spiral
// around x=0,z=0. spacing is the lattice step; callers pass twice the island
// distance so neighbouring islands never overlap.
func Next(prev Cell, spacing int) Cell {
	x, z := prev.X, prev.Z
	switch {
	case x < z:
		if -x < z {
			return prev.Offset(spacing, 0, 0)
		}
		return prev.Offset(0, 0, spacing)
	case x > z:
		if -x >= z {
			return prev.Offset(-spacing, 0, 0)
		}
		return prev.Offset(0, 0, -spacing)
	case x <= 0:
		return prev.Offset(0, 0, spacing)
	default:
		return prev.Offset(0, 0, -spacing)
	}
}

// Chebyshev is the ring index of c around x=0,z=0 in block units.
func Chebyshev(c Cell) int {
	return max(AbsInt(c.X), AbsInt(c.Z))
}

// AbsInt returns |x|. It overflows for math.MinInt like any int negation.
func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// FloorDiv divides a by b rounding toward negative infinity, so block -1
// falls in chunk -1. b must be positive.
func FloorDiv(a, b int) int {
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

// Mod returns a modulo b in [0, b), the offset matching FloorDiv. b must be
// positive.
func Mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
