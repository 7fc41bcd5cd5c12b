// Package mesh extracts the visible block faces of a chunk for rendering.
package mesh

import (
	"voxelstream.ai/internal/sim/world/voxel"
)

type Materials interface {
	Opaque(id uint16) bool
}

// Quad is one visible block face. Coordinates are chunk-local; the light is
// that of the block the face looks into.
type Quad struct {
	X, Y, Z int
	Face    voxel.Face
	Def     uint16
	Indoor  uint8
	Outdoor uint8
}

type Mesh struct {
	Key   voxel.ChunkKey
	Dims  voxel.Dims
	Quads []Quad
}

func (m *Mesh) Len() int { return len(m.Quads) }

// Build emits a quad for every face of a non-air block whose neighbor is
// transparent, absent, or outside the world. Faces between two transparent
// blocks of the same kind (water, glass) are culled.
func Build(c *voxel.Chunk, reg *voxel.Registry, mats Materials, air uint16) *Mesh {
	m := &Mesh{Key: c.Key, Dims: c.Dims}
	for i := range c.Blocks {
		b := c.Blocks[i]
		if b.Def == air {
			continue
		}
		x, y, z := c.Local(i)
		it := c.Iter(x, y, z)
		for _, f := range voxel.Faces {
			q := Quad{X: x, Y: y, Z: z, Face: f, Def: b.Def}
			n, ok := it.Neighbor(reg, f)
			if ok {
				nb := n.Block()
				if mats.Opaque(nb.Def) || nb.Def == b.Def {
					continue
				}
				q.Indoor, q.Outdoor = nb.Indoor, nb.Outdoor
			} else {
				q.Indoor, q.Outdoor = b.Indoor, b.Outdoor
				if f == voxel.Up {
					q.Outdoor = voxel.MaxLight
				}
			}
			m.Quads = append(m.Quads, q)
		}
	}
	return m
}
