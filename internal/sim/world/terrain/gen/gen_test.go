package gen

import (
	"testing"

	"voxelstream.ai/internal/sim/catalogs"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/sim/world/voxel"
)

func testNoise(t *testing.T, seed int64) (*Noise, Palette) {
	t.Helper()
	p, err := PaletteFrom(&catalogs.Default().Blocks)
	if err != nil {
		t.Fatalf("palette: %v", err)
	}
	return NewNoise(seed, tuning.Defaults().Worldgen, p), p
}

func TestNoiseIsDeterministic(t *testing.T) {
	g1, _ := testNoise(t, 7)
	g2, _ := testNoise(t, 7)
	dims := voxel.Dims{X: 16, Y: 64, Z: 16}
	for _, k := range []voxel.ChunkKey{{CX: 0, CZ: 0}, {CX: -3, CZ: 5}} {
		a := voxel.NewChunk(k, dims)
		b := voxel.NewChunk(k, dims)
		g1.Populate(a)
		g2.Populate(b)
		if a.Digest() != b.Digest() {
			t.Fatalf("chunk %v differs between runs", k)
		}
	}
}

func TestNoiseColumnLayers(t *testing.T) {
	g, p := testNoise(t, 99)
	dims := voxel.Dims{X: 8, Y: 64, Z: 8}
	c := voxel.NewChunk(voxel.ChunkKey{CX: 2, CZ: -1}, dims)
	g.Populate(c)
	ox, oz := c.Origin()
	for z := 0; z < dims.Z; z++ {
		for x := 0; x < dims.X; x++ {
			if c.At(x, 0, z).Def != p.Bedrock {
				t.Fatalf("(%d,%d): no bedrock at y=0", x, z)
			}
			h := g.Height(ox+x, oz+z, dims.Y)
			if h < 1 || h >= dims.Y-trunkHeight-2 {
				t.Fatalf("height %d out of range", h)
			}
			if top := c.At(x, h, z).Def; top != p.Grass && top != p.Sand && top != p.Leaves && top != p.Log {
				t.Fatalf("(%d,%d): surface block %d", x, z, top)
			}
			if c.At(x, dims.Y-1, z).Def != p.Air {
				t.Fatalf("(%d,%d): top layer not air", x, z)
			}
		}
	}
}

func TestFlatFillsBelowHeight(t *testing.T) {
	c := voxel.NewChunk(voxel.ChunkKey{}, voxel.Dims{X: 3, Y: 6, Z: 3})
	Flat{Height: 2, Ground: 5}.Populate(c)
	for i, b := range c.Blocks {
		_, y, _ := c.Local(i)
		want := uint16(0)
		if y < 2 {
			want = 5
		}
		if b.Def != want {
			t.Fatalf("y=%d def=%d want %d", y, b.Def, want)
		}
	}
}

func TestPaletteFromRequiresBlocks(t *testing.T) {
	b := catalogs.Default().Blocks
	b.Index = map[string]uint16{"AIR": 0}
	if _, err := PaletteFrom(&b); err == nil {
		t.Fatalf("expected error for incomplete catalog")
	}
}
