package voxel

// BlockIterator addresses one block as a (chunk, local index) pair.
// It owns nothing and is cheap to copy.
type BlockIterator struct {
	chunk *Chunk
	index int
}

func (it BlockIterator) Valid() bool   { return it.chunk != nil }
func (it BlockIterator) Chunk() *Chunk { return it.chunk }
func (it BlockIterator) Index() int    { return it.index }

func (it BlockIterator) Block() *Block { return &it.chunk.Blocks[it.index] }

func (it BlockIterator) Local() (x, y, z int) { return it.chunk.Local(it.index) }

// World returns the world block coordinate.
func (it BlockIterator) World() (x, y, z int) {
	lx, ly, lz := it.chunk.Local(it.index)
	ox, oz := it.chunk.Origin()
	return ox + lx, ly, oz + lz
}

// OnBoundary reports whether the block touches its chunk's horizontal edge
// in direction f.
func (it BlockIterator) OnBoundary(f Face) bool {
	x, _, z := it.chunk.Local(it.index)
	switch f {
	case East:
		return x == it.chunk.Dims.X-1
	case West:
		return x == 0
	case South:
		return z == it.chunk.Dims.Z-1
	case North:
		return z == 0
	}
	return false
}

// Neighbor steps to the face-adjacent block. Crossing a horizontal chunk
// edge consults the registry; the result is false above or below the world
// and where the neighboring chunk is not active.
func (it BlockIterator) Neighbor(reg *Registry, f Face) (BlockIterator, bool) {
	c := it.chunk
	x, y, z := c.Local(it.index)
	n := f.Normal()
	nx, ny, nz := x+n[0], y+n[1], z+n[2]
	if ny < 0 || ny >= c.Dims.Y {
		return BlockIterator{}, false
	}
	if nx >= 0 && nx < c.Dims.X && nz >= 0 && nz < c.Dims.Z {
		return BlockIterator{chunk: c, index: c.Index(nx, ny, nz)}, true
	}
	if reg == nil {
		return BlockIterator{}, false
	}
	nc := reg.Neighbor(c.Key, f)
	if nc == nil {
		return BlockIterator{}, false
	}
	return BlockIterator{chunk: nc, index: nc.Index(Mod(nx, nc.Dims.X), ny, Mod(nz, nc.Dims.Z))}, true
}
