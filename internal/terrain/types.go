package terrain

import (
	"context"

	"github.com/CoreyShupe/BentoBox/internal/grid"
)

const ChunkSize = 16

type Material string

const (
	Air     Material = "AIR"
	Water   Material = "WATER"
	Stone   Material = "STONE"
	Dirt    Material = "DIRT"
	Grass   Material = "GRASS_BLOCK"
	Sand    Material = "SAND"
	Log     Material = "OAK_LOG"
	Leaves  Material = "OAK_LEAVES"
	Bedrock Material = "BEDROCK"
)

type Block struct {
	Material Material
}

func (b Block) IsEmpty() bool {
	return b.Material == "" || b.Material == Air
}

// Face is one of the six axis-aligned block faces.
type Face int

const (
	Up Face = iota
	Down
	North
	South
	East
	West
)

var Faces = [6]Face{Up, Down, North, South, East, West}

func (f Face) Delta() (dx, dy, dz int) {
	switch f {
	case Up:
		return 0, 1, 0
	case Down:
		return 0, -1, 0
	case North:
		return 0, 0, -1
	case South:
		return 0, 0, 1
	case East:
		return 1, 0, 0
	default:
		return -1, 0, 0
	}
}

func (f Face) String() string {
	switch f {
	case Up:
		return "UP"
	case Down:
		return "DOWN"
	case North:
		return "NORTH"
	case South:
		return "SOUTH"
	case East:
		return "EAST"
	case West:
		return "WEST"
	}
	return "UNKNOWN"
}

// Column is fetched terrain around one chunk column. Coordinates are world
// block coordinates.
type Column interface {
	BlockAt(x, y, z int) Block
}

// Relative returns the block next to (x,y,z) across face f.
func Relative(col Column, x, y, z int, f Face) Block {
	dx, dy, dz := f.Delta()
	return col.BlockAt(x+dx, y+dy, z+dz)
}

// Source reports chunk state and loads columns.
type Source interface {
	IsChunkMaterialized(c grid.Cell) bool
	FetchColumn(ctx context.Context, c grid.Cell) (Column, error)
}

type ChunkKey struct {
	World string
	CX    int
	CZ    int
}

func KeyOf(c grid.Cell) ChunkKey {
	return ChunkKey{World: c.World, CX: grid.FloorDiv(c.X, ChunkSize), CZ: grid.FloorDiv(c.Z, ChunkSize)}
}

type localPos struct {
	X, Y, Z int
}

type Chunk struct {
	Key    ChunkKey
	blocks map[localPos]Material
}

func newChunk(k ChunkKey) *Chunk {
	return &Chunk{Key: k, blocks: map[localPos]Material{}}
}

func (c *Chunk) get(lx, y, lz int) Material {
	if m, ok := c.blocks[localPos{lx, y, lz}]; ok {
		return m
	}
	return Air
}

func (c *Chunk) set(lx, y, lz int, m Material) {
	p := localPos{lx, y, lz}
	if m == "" || m == Air {
		delete(c.blocks, p)
		return
	}
	c.blocks[p] = m
}

// Len is the number of non-air blocks in the chunk.
func (c *Chunk) Len() int { return len(c.blocks) }
