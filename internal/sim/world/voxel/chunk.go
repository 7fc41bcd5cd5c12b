package voxel

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// MaxLight is the brightest level either light channel can hold.
const MaxLight = 15

// Block flag bits.
const (
	FlagSky        uint8 = 1 << 0
	FlagLightDirty uint8 = 1 << 1
)

// Block is one slot of a chunk's fixed array. It has no lifetime of its own.
type Block struct {
	Def     uint16
	Indoor  uint8
	Outdoor uint8
	Flags   uint8
}

func (b Block) Sky() bool   { return b.Flags&FlagSky != 0 }
func (b Block) Dirty() bool { return b.Flags&FlagLightDirty != 0 }

type ChunkKey struct {
	CX int
	CZ int
}

func (k ChunkKey) String() string { return fmt.Sprintf("(%d,%d)", k.CX, k.CZ) }

// Offset returns the key one step away in the given horizontal direction.
func (k ChunkKey) Offset(f Face) ChunkKey {
	n := f.Normal()
	return ChunkKey{CX: k.CX + n[0], CZ: k.CZ + n[2]}
}

// Dist2 is the squared chunk-grid distance between two keys.
func (k ChunkKey) Dist2(o ChunkKey) int {
	dx := k.CX - o.CX
	dz := k.CZ - o.CZ
	return dx*dx + dz*dz
}

// Dims is the block extent of every chunk in a world.
type Dims struct {
	X, Y, Z int
}

func (d Dims) Volume() int { return d.X * d.Y * d.Z }

func (d Dims) Validate() error {
	if d.X <= 0 || d.Y <= 0 || d.Z <= 0 {
		return fmt.Errorf("chunk dims must be positive: got %dx%dx%d", d.X, d.Y, d.Z)
	}
	if d.X > 0xFFFF || d.Y > 0xFFFF || d.Z > 0xFFFF {
		return fmt.Errorf("chunk dims too large: got %dx%dx%d", d.X, d.Y, d.Z)
	}
	return nil
}

type ChunkState uint8

const (
	StateGenerating ChunkState = iota
	StateActive
	StateDeactivating
	StateDestroyed
)

func (s ChunkState) String() string {
	switch s {
	case StateGenerating:
		return "GENERATING"
	case StateActive:
		return "ACTIVE"
	case StateDeactivating:
		return "DEACTIVATING"
	case StateDestroyed:
		return "DESTROYED"
	default:
		return fmt.Sprintf("ChunkState(%d)", uint8(s))
	}
}

type Chunk struct {
	Key    ChunkKey
	Dims   Dims
	Blocks []Block // len = X*Y*Z; x fastest, then z, then y
	State  ChunkState

	meshStale bool
	edited    bool
	relight   bool
}

func NewChunk(key ChunkKey, dims Dims) *Chunk {
	return &Chunk{
		Key:       key,
		Dims:      dims,
		Blocks:    make([]Block, dims.Volume()),
		State:     StateGenerating,
		meshStale: true,
	}
}

func (c *Chunk) Index(x, y, z int) int {
	return x + z*c.Dims.X + y*c.Dims.X*c.Dims.Z
}

// Local is the inverse of Index.
func (c *Chunk) Local(i int) (x, y, z int) {
	layer := c.Dims.X * c.Dims.Z
	y = i / layer
	r := i % layer
	z = r / c.Dims.X
	x = r % c.Dims.X
	return x, y, z
}

func (c *Chunk) InRange(x, y, z int) bool {
	return x >= 0 && x < c.Dims.X && y >= 0 && y < c.Dims.Y && z >= 0 && z < c.Dims.Z
}

func (c *Chunk) At(x, y, z int) *Block {
	return &c.Blocks[c.Index(x, y, z)]
}

// Iter returns an iterator addressing the local block (x,y,z).
func (c *Chunk) Iter(x, y, z int) BlockIterator {
	return BlockIterator{chunk: c, index: c.Index(x, y, z)}
}

// Origin is the world block coordinate of local (0,0,0).
func (c *Chunk) Origin() (x, z int) {
	return c.Key.CX * c.Dims.X, c.Key.CZ * c.Dims.Z
}

func (c *Chunk) MeshStale() bool    { return c.meshStale }
func (c *Chunk) MarkMeshStale()     { c.meshStale = true }
func (c *Chunk) ClearMeshStale()    { c.meshStale = false }
func (c *Chunk) Edited() bool       { return c.edited }
func (c *Chunk) MarkEdited()        { c.edited = true }
func (c *Chunk) ClearEdited()       { c.edited = false }
func (c *Chunk) NeedsRelight() bool { return c.relight }
func (c *Chunk) SetRelight(v bool)  { c.relight = v }

// ResetLight zeroes both light channels and the sky flag of every block.
func (c *Chunk) ResetLight() {
	for i := range c.Blocks {
		b := &c.Blocks[i]
		b.Indoor = 0
		b.Outdoor = 0
		b.Flags &^= FlagSky
	}
}

// Digest hashes the block array deterministically (def, light, sky bit).
func (c *Chunk) Digest() [32]byte {
	h := sha256.New()
	var tmp [4]byte
	for _, b := range c.Blocks {
		binary.LittleEndian.PutUint16(tmp[:2], b.Def)
		tmp[2] = b.Indoor<<4 | b.Outdoor&0x0F
		tmp[3] = b.Flags & FlagSky
		h.Write(tmp[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
