package world

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"voxelstream.ai/internal/sim/world/voxel"
)

func groundWorld(t *testing.T) *testWorld {
	t.Helper()
	tw := newTestWorld(t, testConfig(), Deps{})
	tw.place(voxel.ChunkKey{}, fillLayers(blockID("STONE"), 0, 1))
	tw.DrainLight(0)
	return tw
}

func TestRaycastStraightDown(t *testing.T) {
	tw := groundWorld(t)
	r := tw.Raycast(mgl64.Vec3{1.5, 5.5, 1.5}, mgl64.Vec3{0, -1, 0}, 10)
	if !r.Hit || r.Normal != voxel.Up {
		t.Fatalf("result=%+v", r)
	}
	if x, y, z := r.Block.World(); x != 1 || y != 1 || z != 1 {
		t.Fatalf("block=(%d,%d,%d)", x, y, z)
	}
	if math.Abs(r.Distance-3.5) > 1e-9 {
		t.Fatalf("distance=%v want 3.5", r.Distance)
	}
	if !r.Pos.ApproxEqual(mgl64.Vec3{1.5, 2, 1.5}) {
		t.Fatalf("pos=%v", r.Pos)
	}
}

func TestRaycastStopsAtMaxDistance(t *testing.T) {
	tw := groundWorld(t)
	if r := tw.Raycast(mgl64.Vec3{1.5, 5.5, 1.5}, mgl64.Vec3{0, -1, 0}, 3.4); r.Hit {
		t.Fatalf("hit beyond max distance: %+v", r)
	}
	if r := tw.Raycast(mgl64.Vec3{1.5, 5.5, 1.5}, mgl64.Vec3{0, -2, 0}, 3.6); !r.Hit {
		t.Fatalf("miss inside max distance with unnormalized dir")
	}
}

func TestRaycastOriginInsideSolid(t *testing.T) {
	tw := groundWorld(t)
	cases := []struct {
		dir  mgl64.Vec3
		want voxel.Face
	}{
		{mgl64.Vec3{0.3, -0.8, 0.1}, voxel.Up},
		{mgl64.Vec3{0, 0.5, 0}, voxel.Down},
		{mgl64.Vec3{1, 1, 0}, voxel.West},
		{mgl64.Vec3{0, 0.2, -0.9}, voxel.South},
	}
	for _, tc := range cases {
		r := tw.Raycast(mgl64.Vec3{1.5, 1.5, 1.5}, tc.dir, 5)
		if !r.Hit || r.Distance != 0 || r.Normal != tc.want {
			t.Fatalf("dir=%v: result=%+v want normal %s", tc.dir, r, tc.want)
		}
		if x, y, z := r.Block.World(); x != 1 || y != 1 || z != 1 {
			t.Fatalf("dir=%v: block=(%d,%d,%d)", tc.dir, x, y, z)
		}
	}
}

func TestRaycastDiagonalTiesResolveXYZ(t *testing.T) {
	tw := groundWorld(t)
	origin := mgl64.Vec3{0.5, 4.5, 0.5}
	dir := mgl64.Vec3{1, -1, 1}
	r := tw.Raycast(origin, dir, 10)
	if !r.Hit || r.Normal != voxel.Up {
		t.Fatalf("result=%+v", r)
	}
	if x, y, z := r.Block.World(); x != 3 || y != 1 || z != 2 {
		t.Fatalf("block=(%d,%d,%d) want (3,1,2)", x, y, z)
	}
	if want := 2.5 * math.Sqrt(3); math.Abs(r.Distance-want) > 1e-9 {
		t.Fatalf("distance=%v want %v", r.Distance, want)
	}

	again := tw.Raycast(origin, dir, 10)
	if again != r {
		t.Fatalf("raycast not deterministic: %+v vs %+v", again, r)
	}
}

func TestRaycastMissesIntoUnloadedChunk(t *testing.T) {
	tw := groundWorld(t)
	if r := tw.Raycast(mgl64.Vec3{1.5, 5.5, 1.5}, mgl64.Vec3{1, 0, 0}, 100); r.Hit {
		t.Fatalf("hit through unloaded chunk: %+v", r)
	}
	if r := tw.Raycast(mgl64.Vec3{9.5, 5.5, 1.5}, mgl64.Vec3{0, -1, 0}, 100); r.Hit {
		t.Fatalf("hit from unloaded origin: %+v", r)
	}
	if r := tw.Raycast(mgl64.Vec3{1.5, 5.5, 1.5}, mgl64.Vec3{}, 100); r.Hit {
		t.Fatalf("hit with zero direction")
	}
}

func TestRaycastCrossesChunkBoundary(t *testing.T) {
	tw := groundWorld(t)
	tw.place(voxel.ChunkKey{CX: -1}, func(c *voxel.Chunk) { c.At(2, 5, 1).Def = blockID("GLASS") })
	r := tw.Raycast(mgl64.Vec3{1.5, 5.5, 1.5}, mgl64.Vec3{-1, 0, 0}, 10)
	if !r.Hit || r.Normal != voxel.East {
		t.Fatalf("result=%+v", r)
	}
	if x, y, z := r.Block.World(); x != -2 || y != 5 || z != 1 {
		t.Fatalf("block=(%d,%d,%d) want (-2,5,1)", x, y, z)
	}
	if math.Abs(r.Distance-2.5) > 1e-9 {
		t.Fatalf("distance=%v want 2.5", r.Distance)
	}
}
