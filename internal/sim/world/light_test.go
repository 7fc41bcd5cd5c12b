package world

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"voxelstream.ai/internal/persistence/chunkfile"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/sim/world/terrain/gen"
	"voxelstream.ai/internal/sim/world/voxel"
)

func TestEmissiveBlockFallsOffByOnePerHop(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkSize = voxel.Dims{X: 7, Y: 7, Z: 7}
	tw := newTestWorld(t, cfg, Deps{})
	lamp := blockID("LAMP")
	c := tw.place(voxel.ChunkKey{}, func(c *voxel.Chunk) { c.At(3, 3, 3).Def = lamp })
	tw.DrainLight(0)
	assertLightConverged(t, tw.World)

	cases := []struct {
		x, y, z int
		want    uint8
	}{
		{3, 3, 3, 15},
		{4, 3, 3, 14},
		{2, 3, 3, 14},
		{3, 4, 3, 14},
		{3, 3, 2, 14},
		{5, 3, 3, 13},
		{3, 5, 3, 13},
		{4, 4, 3, 13},
		{6, 3, 3, 12},
	}
	for _, tc := range cases {
		if got := c.At(tc.x, tc.y, tc.z).Indoor; got != tc.want {
			t.Fatalf("indoor(%d,%d,%d)=%d want %d", tc.x, tc.y, tc.z, got, tc.want)
		}
	}
}

func TestOpaqueGroundPlaneOutdoorLight(t *testing.T) {
	tw := newTestWorld(t, testConfig(), Deps{})
	stone := blockID("STONE")
	for cz := -1; cz <= 1; cz++ {
		for cx := -1; cx <= 1; cx++ {
			tw.place(voxel.ChunkKey{CX: cx, CZ: cz}, fillLayers(stone, 0, 1, 2))
		}
	}
	tw.DrainLight(0)
	assertLightConverged(t, tw.World)

	for _, k := range tw.reg.Keys() {
		c := tw.reg.Get(k)
		for i, b := range c.Blocks {
			_, y, _ := c.Local(i)
			if y <= 2 && (b.Outdoor != 0 || b.Sky()) {
				t.Fatalf("%v y=%d: solid block outdoor=%d sky=%v", k, y, b.Outdoor, b.Sky())
			}
			if y > 2 && (b.Outdoor != voxel.MaxLight || !b.Sky()) {
				t.Fatalf("%v y=%d: air block outdoor=%d sky=%v", k, y, b.Outdoor, b.Sky())
			}
		}
	}
}

func TestLightCrossesChunkBoundaryInEitherActivationOrder(t *testing.T) {
	lamp := blockID("LAMP")
	stone := blockID("STONE")
	roofed := func(c *voxel.Chunk) {
		fillLayers(stone, 0, 7)(c)
	}
	withLamp := func(c *voxel.Chunk) {
		roofed(c)
		c.At(3, 3, 1).Def = lamp
	}

	for _, lampFirst := range []bool{true, false} {
		tw := newTestWorld(t, testConfig(), Deps{})
		var b *voxel.Chunk
		if lampFirst {
			tw.place(voxel.ChunkKey{CX: 0}, withLamp)
			tw.DrainLight(0)
			b = tw.place(voxel.ChunkKey{CX: 1}, roofed)
		} else {
			b = tw.place(voxel.ChunkKey{CX: 1}, roofed)
			tw.DrainLight(0)
			tw.place(voxel.ChunkKey{CX: 0}, withLamp)
		}
		tw.DrainLight(0)
		assertLightConverged(t, tw.World)
		if got := b.At(0, 3, 1).Indoor; got != 14 {
			t.Fatalf("lampFirst=%v: neighbor edge indoor=%d want 14", lampFirst, got)
		}
		if got := b.At(2, 3, 1).Indoor; got != 12 {
			t.Fatalf("lampFirst=%v: two blocks in indoor=%d want 12", lampFirst, got)
		}
	}
}

func TestDeactivationDecaysBorrowedLight(t *testing.T) {
	lamp := blockID("LAMP")
	stone := blockID("STONE")
	tw := newTestWorld(t, testConfig(), Deps{})
	a := tw.place(voxel.ChunkKey{CX: 0}, func(c *voxel.Chunk) {
		fillLayers(stone, 0, 7)(c)
		c.At(3, 3, 1).Def = lamp
	})
	b := tw.place(voxel.ChunkKey{CX: 1}, fillLayers(stone, 0, 7))
	tw.DrainLight(0)
	if b.At(0, 3, 1).Indoor != 14 {
		t.Fatalf("setup: light did not cross")
	}

	// Leave work queued for a so the purge path runs.
	tw.enqueueLight(a.Iter(1, 1, 1))
	tw.deactivate(a, "test")
	if a.State != voxel.StateDestroyed || tw.reg.Has(a.Key) {
		t.Fatalf("chunk not destroyed: state=%s", a.State)
	}
	for i := 0; i < tw.dirty.Len(); i++ {
		if tw.dirty.At(i).Chunk() == a {
			t.Fatalf("queue still references destroyed chunk")
		}
	}

	tw.DrainLight(0)
	assertLightConverged(t, tw.World)
	for i, blk := range b.Blocks {
		if blk.Indoor != 0 {
			x, y, z := b.Local(i)
			t.Fatalf("(%d,%d,%d) kept indoor=%d after source left", x, y, z, blk.Indoor)
		}
	}
}

func TestRelightAfterSavingWithPendingLight(t *testing.T) {
	cfg := roofedRoomConfig()
	store := chunkfile.NewStore(t.TempDir(), cfg.Seed, cfg.ChunkSize)
	tw := newTestWorld(t, cfg, Deps{Storage: store})
	lamp := blockID("LAMP")
	c := tw.place(voxel.ChunkKey{}, fillLayers(blockID("STONE"), 0, 6))
	tw.DrainLight(0)

	tw.aim(mgl64.Vec3{2.5, 4.5, 2.5}, mgl64.Vec3{0, -1, 0})
	tw.SetSelected(lamp)
	if !tw.Build() {
		t.Fatalf("build rejected")
	}
	tw.DrainLight(3)
	if tw.DirtyLen() == 0 {
		t.Fatalf("setup: light settled within budget")
	}

	tw.deactivate(c, "test")
	if tw.DirtyLen() != 0 {
		t.Fatalf("queue len=%d after deactivation", tw.DirtyLen())
	}
	back, ok, err := store.Load(voxel.ChunkKey{})
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if !back.NeedsRelight() {
		t.Fatalf("saved chunk not flagged for relight")
	}
	if back.At(2, 1, 2).Def != lamp {
		t.Fatalf("lamp not saved")
	}

	tw.activate(back)
	if back.NeedsRelight() {
		t.Fatalf("relight flag survived activation")
	}
	tw.DrainLight(0)
	assertLightConverged(t, tw.World)
	for y, want := range map[int]uint8{1: 15, 2: 14, 3: 13, 5: 11} {
		if got := back.At(2, y, 2).Indoor; got != want {
			t.Fatalf("indoor y=%d = %d want %d", y, got, want)
		}
	}
}

func TestNoiseTerrainConvergesAcrossChunks(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkSize = voxel.Dims{X: 8, Y: 32, Z: 8}
	p, err := gen.PaletteFrom(testBlocks)
	if err != nil {
		t.Fatal(err)
	}
	wg := tuning.Defaults().Worldgen
	wg.BaseHeight = 12
	wg.SeaLevel = 10
	wg.TreePermille = 60
	wg.LampPermille = 30
	g := gen.NewNoise(42, wg, p)

	tw := newTestWorld(t, cfg, Deps{Synth: g})
	var chunks []*voxel.Chunk
	for cz := -1; cz <= 1; cz++ {
		for cx := -1; cx <= 1; cx++ {
			chunks = append(chunks, tw.place(voxel.ChunkKey{CX: cx, CZ: cz}, g.Populate))
			tw.DrainLight(0)
		}
	}
	assertLightConverged(t, tw.World)

	tw.deactivate(chunks[4], "test")
	tw.DrainLight(0)
	assertLightConverged(t, tw.World)

	tw.place(voxel.ChunkKey{}, g.Populate)
	tw.DrainLight(0)
	assertLightConverged(t, tw.World)
}

func TestLightBudgetDefersRemainder(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkSize = voxel.Dims{X: 7, Y: 7, Z: 7}
	tw := newTestWorld(t, cfg, Deps{})
	tw.place(voxel.ChunkKey{}, func(c *voxel.Chunk) { c.At(3, 3, 3).Def = blockID("LAMP") })

	if n := tw.DrainLight(5); n != 5 {
		t.Fatalf("processed %d want 5", n)
	}
	if tw.DirtyLen() == 0 {
		t.Fatalf("expected deferred work")
	}
	total := 5
	for tw.DirtyLen() > 0 {
		total += tw.DrainLight(5)
	}
	if total <= 5 {
		t.Fatalf("total=%d", total)
	}
	assertLightConverged(t, tw.World)
}

func TestEnqueueIsGuardedByDirtyFlag(t *testing.T) {
	tw := newTestWorld(t, testConfig(), Deps{})
	c := tw.place(voxel.ChunkKey{}, nil)
	tw.DrainLight(0)
	it := c.Iter(1, 1, 1)
	if !tw.enqueueLight(it) {
		t.Fatalf("first enqueue rejected")
	}
	if tw.enqueueLight(it) {
		t.Fatalf("second enqueue accepted while dirty")
	}
	if tw.DirtyLen() != 1 {
		t.Fatalf("queue len=%d want 1", tw.DirtyLen())
	}
	tw.DrainLight(0)
	if it.Block().Dirty() {
		t.Fatalf("dirty flag survived drain")
	}
}
