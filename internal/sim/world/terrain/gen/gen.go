// Package gen fills freshly constructed chunks with terrain. Generators are
// called from worker goroutines and must not retain the chunk.
package gen

import (
	"fmt"

	"github.com/ojrac/opensimplex-go"

	"voxelstream.ai/internal/sim/catalogs"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/sim/world/voxel"
)

// Palette holds the block ids the generators place.
type Palette struct {
	Air     uint16
	Bedrock uint16
	Stone   uint16
	Dirt    uint16
	Grass   uint16
	Sand    uint16
	Water   uint16
	Log     uint16
	Leaves  uint16
	Lamp    uint16
}

func PaletteFrom(b *catalogs.BlockCatalog) (Palette, error) {
	var p Palette
	for _, e := range []struct {
		name string
		dst  *uint16
	}{
		{"AIR", &p.Air},
		{"BEDROCK", &p.Bedrock},
		{"STONE", &p.Stone},
		{"DIRT", &p.Dirt},
		{"GRASS", &p.Grass},
		{"SAND", &p.Sand},
		{"WATER", &p.Water},
		{"LOG", &p.Log},
		{"LEAVES", &p.Leaves},
		{"LAMP", &p.Lamp},
	} {
		id, ok := b.Index[e.name]
		if !ok {
			return p, fmt.Errorf("gen: block catalog lacks %s", e.name)
		}
		*e.dst = id
	}
	return p, nil
}

const (
	trunkHeight = 4
	canopyR     = 2
	lampSalt    = 0x4c414d50
)

// Noise is the default terrain: a fractal simplex heightmap with layered
// soil, water up to sea level, scattered trees and surface lamps.
type Noise struct {
	seed  int64
	cfg   tuning.Worldgen
	p     Palette
	noise opensimplex.Noise
}

func NewNoise(seed int64, cfg tuning.Worldgen, p Palette) *Noise {
	if cfg.Octaves <= 0 {
		cfg.Octaves = 1
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 1
	}
	if cfg.Lacunarity < 1 {
		cfg.Lacunarity = 1
	}
	cfg.TreePermille = ClampPermille(cfg.TreePermille)
	cfg.LampPermille = ClampPermille(cfg.LampPermille)
	return &Noise{seed: seed, cfg: cfg, p: p, noise: opensimplex.New(seed)}
}

// Height returns the y of the topmost ground block of world column (x,z),
// clamped so that a tree still fits below the top of a chunk of height h.
func (g *Noise) Height(x, z, h int) int {
	amp := g.cfg.Amplitude
	freq := 1.0
	val := float64(g.cfg.BaseHeight)
	for o := 0; o < g.cfg.Octaves; o++ {
		val += g.noise.Eval2(float64(x)*freq/g.cfg.Scale, float64(z)*freq/g.cfg.Scale) * amp
		freq *= g.cfg.Lacunarity
		amp *= g.cfg.Persistence
	}
	top := h - trunkHeight - 3
	y := int(val)
	if y > top {
		y = top
	}
	if y < 1 {
		y = 1
	}
	return y
}

func (g *Noise) Populate(c *voxel.Chunk) {
	ox, oz := c.Origin()
	d := c.Dims
	for z := 0; z < d.Z; z++ {
		for x := 0; x < d.X; x++ {
			g.fillColumn(c, x, z, g.Height(ox+x, oz+z, d.Y))
		}
	}

	// Canopies reach canopyR blocks beyond their trunk, so trees rooted in
	// neighboring columns can spill into this chunk.
	for wz := oz - canopyR; wz < oz+d.Z+canopyR; wz++ {
		for wx := ox - canopyR; wx < ox+d.X+canopyR; wx++ {
			h := g.Height(wx, wz, d.Y)
			switch {
			case g.treeAt(wx, wz, h):
				g.placeTree(c, wx, h+1, wz)
			case g.lampAt(wx, wz, h):
				setWorld(c, wx, h+1, wz, g.p.Lamp)
			}
		}
	}
}

func (g *Noise) fillColumn(c *voxel.Chunk, x, z, h int) {
	sandy := h <= g.cfg.SeaLevel+1
	for y := 0; y < c.Dims.Y; y++ {
		var def uint16
		switch {
		case y == 0:
			def = g.p.Bedrock
		case y < h-3:
			def = g.p.Stone
		case y < h:
			def = g.p.Dirt
			if sandy {
				def = g.p.Sand
			}
		case y == h:
			def = g.p.Grass
			if sandy {
				def = g.p.Sand
			}
		case y <= g.cfg.SeaLevel:
			def = g.p.Water
		default:
			def = g.p.Air
		}
		c.At(x, y, z).Def = def
	}
}

func (g *Noise) treeAt(wx, wz, h int) bool {
	if h <= g.cfg.SeaLevel+1 {
		return false
	}
	return Hash2(g.seed, wx, wz)%1000 < uint64(g.cfg.TreePermille)
}

func (g *Noise) lampAt(wx, wz, h int) bool {
	if h <= g.cfg.SeaLevel {
		return false
	}
	return Hash2(g.seed^lampSalt, wx, wz)%1000 < uint64(g.cfg.LampPermille)
}

func (g *Noise) placeTree(c *voxel.Chunk, wx, base, wz int) {
	top := base + trunkHeight - 1
	for y := top - 1; y <= top+1; y++ {
		r := canopyR
		if y > top {
			r = 1
		}
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				if dx == 0 && dz == 0 && y <= top {
					continue
				}
				setWorld(c, wx+dx, y, wz+dz, g.p.Leaves)
			}
		}
	}
	for y := base; y <= top; y++ {
		setWorld(c, wx, y, wz, g.p.Log)
	}
}

// setWorld writes a block by world coordinate, ignoring positions outside c.
func setWorld(c *voxel.Chunk, wx, y, wz int, def uint16) {
	ox, oz := c.Origin()
	x, z := wx-ox, wz-oz
	if !c.InRange(x, y, z) {
		return
	}
	c.At(x, y, z).Def = def
}

// Flat fills every column up to Height with Ground. Used by tests and tools.
type Flat struct {
	Height int
	Ground uint16
}

func (f Flat) Populate(c *voxel.Chunk) {
	for y := 0; y < f.Height && y < c.Dims.Y; y++ {
		for z := 0; z < c.Dims.Z; z++ {
			for x := 0; x < c.Dims.X; x++ {
				c.At(x, y, z).Def = f.Ground
			}
		}
	}
}
