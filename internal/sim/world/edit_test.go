package world

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"voxelstream.ai/internal/sim/world/voxel"
)

func roofedRoomConfig() WorldConfig {
	cfg := testConfig()
	cfg.ChunkSize = voxel.Dims{X: 5, Y: 10, Z: 5}
	cfg.MaxChunks = 1
	return cfg
}

func TestDigThroughRoofLetsSkyIn(t *testing.T) {
	tw := newTestWorld(t, roofedRoomConfig(), Deps{})
	c := tw.place(voxel.ChunkKey{}, fillLayers(blockID("STONE"), 0, 6))
	tw.DrainLight(0)
	for y := 1; y <= 5; y++ {
		if b := c.At(2, y, 2); b.Sky() || b.Outdoor != 0 {
			t.Fatalf("setup: y=%d sky=%v outdoor=%d", y, b.Sky(), b.Outdoor)
		}
	}

	hit := tw.aim(mgl64.Vec3{2.5, 8.5, 2.5}, mgl64.Vec3{0, -1, 0})
	if !hit.Hit || hit.Normal != voxel.Up {
		t.Fatalf("impact=%+v", hit)
	}
	if x, y, z := hit.Block.World(); x != 2 || y != 6 || z != 2 {
		t.Fatalf("impact block=(%d,%d,%d)", x, y, z)
	}
	if !tw.Dig() {
		t.Fatalf("dig rejected")
	}
	tw.DrainLight(0)
	assertLightConverged(t, tw.World)

	for y := 1; y <= 6; y++ {
		if b := c.At(2, y, 2); !b.Sky() || b.Outdoor != voxel.MaxLight {
			t.Fatalf("y=%d sky=%v outdoor=%d after dig", y, b.Sky(), b.Outdoor)
		}
	}
	if b := c.At(2, 0, 2); b.Sky() {
		t.Fatalf("floor became sky")
	}
	if got := c.At(1, 3, 2).Outdoor; got != 14 {
		t.Fatalf("beside shaft outdoor=%d want 14", got)
	}
	if !c.Edited() || !c.MeshStale() {
		t.Fatalf("edit flags: edited=%v stale=%v", c.Edited(), c.MeshStale())
	}
}

func TestBuildOpaqueBlockShadowsColumn(t *testing.T) {
	tw := newTestWorld(t, roofedRoomConfig(), Deps{})
	stone := blockID("STONE")
	c := tw.place(voxel.ChunkKey{}, func(c *voxel.Chunk) {
		fillLayers(stone, 0)(c)
		c.At(1, 5, 2).Def = stone
	})
	tw.DrainLight(0)
	if !c.At(2, 3, 2).Sky() {
		t.Fatalf("setup: column not sky")
	}

	hit := tw.aim(mgl64.Vec3{3.5, 5.5, 2.5}, mgl64.Vec3{-1, 0, 0})
	if !hit.Hit || hit.Normal != voxel.East {
		t.Fatalf("impact=%+v", hit)
	}
	tw.SetSelected(stone)
	if !tw.Build() {
		t.Fatalf("build rejected")
	}
	tw.DrainLight(0)
	assertLightConverged(t, tw.World)

	if b := c.At(2, 5, 2); b.Def != stone || b.Sky() || b.Outdoor != 0 {
		t.Fatalf("built block def=%d sky=%v outdoor=%d", b.Def, b.Sky(), b.Outdoor)
	}
	for y := 1; y <= 4; y++ {
		b := c.At(2, y, 2)
		if b.Sky() {
			t.Fatalf("y=%d still sky under new block", y)
		}
		if b.Outdoor != 14 {
			t.Fatalf("y=%d outdoor=%d want 14", y, b.Outdoor)
		}
	}
	if !c.At(2, 6, 2).Sky() {
		t.Fatalf("block above the build lost sky")
	}
}

func TestEditsWithoutImpactAreNoOps(t *testing.T) {
	tw := newTestWorld(t, roofedRoomConfig(), Deps{})
	c := tw.place(voxel.ChunkKey{}, fillLayers(blockID("STONE"), 0))
	tw.DrainLight(0)
	before := c.Digest()

	if hit := tw.aim(mgl64.Vec3{2.5, 5.5, 2.5}, mgl64.Vec3{0, 1, 0}); hit.Hit {
		t.Fatalf("unexpected impact %+v", hit)
	}
	tw.SetSelected(blockID("STONE"))
	if tw.Dig() || tw.Build() {
		t.Fatalf("edit applied without impact")
	}
	if c.Digest() != before || c.Edited() {
		t.Fatalf("chunk changed")
	}
}

func TestDigRespectsUnbreakableBlocks(t *testing.T) {
	tw := newTestWorld(t, roofedRoomConfig(), Deps{})
	tw.place(voxel.ChunkKey{}, fillLayers(blockID("BEDROCK"), 0))
	tw.DrainLight(0)
	if hit := tw.aim(mgl64.Vec3{2.5, 3.5, 2.5}, mgl64.Vec3{0, -1, 0}); !hit.Hit {
		t.Fatalf("expected impact")
	}
	if tw.Dig() {
		t.Fatalf("dug bedrock")
	}
}

func TestBuildNeedsEmptyTarget(t *testing.T) {
	tw := newTestWorld(t, roofedRoomConfig(), Deps{})
	stone := blockID("STONE")
	tw.place(voxel.ChunkKey{}, fillLayers(stone, 0, 1, 2))
	tw.DrainLight(0)
	// Origin inside the ground: the impact normal points up into more stone.
	hit := tw.aim(mgl64.Vec3{2.5, 1.5, 2.5}, mgl64.Vec3{0, -1, 0})
	if !hit.Hit || hit.Distance != 0 || hit.Normal != voxel.Up {
		t.Fatalf("impact=%+v", hit)
	}
	tw.SetSelected(stone)
	if tw.Build() {
		t.Fatalf("built into a solid block")
	}
}

func TestEdgeEditDirtiesNeighborChunk(t *testing.T) {
	cfg := testConfig()
	tw := newTestWorld(t, cfg, Deps{})
	stone := blockID("STONE")
	a := tw.place(voxel.ChunkKey{CX: 0}, fillLayers(stone, 0, 1, 2))
	b := tw.place(voxel.ChunkKey{CX: 1}, fillLayers(stone, 0, 1, 2))
	tw.DrainLight(0)
	a.ClearMeshStale()
	b.ClearMeshStale()

	if hit := tw.aim(mgl64.Vec3{3.5, 6.5, 1.5}, mgl64.Vec3{0, -1, 0}); !hit.Hit || hit.Block.Chunk() != a {
		t.Fatalf("impact=%+v", hit)
	}
	if !tw.Dig() {
		t.Fatalf("dig rejected")
	}
	if !b.MeshStale() {
		t.Fatalf("neighbor mesh not marked stale")
	}
	if !b.At(0, 2, 1).Dirty() {
		t.Fatalf("matching neighbor block not queued")
	}
	tw.DrainLight(0)
	assertLightConverged(t, tw.World)
	if got := b.At(0, 1, 1).Outdoor; got != 0 {
		t.Fatalf("stone under the hole rim lit: %d", got)
	}
}

func TestEditRequestsApplyOnNextTick(t *testing.T) {
	tw := newTestWorld(t, roofedRoomConfig(), Deps{})
	c := tw.place(voxel.ChunkKey{}, fillLayers(blockID("STONE"), 0, 1))
	tw.obs.pos, tw.obs.fwd = mgl64.Vec3{2.5, 4.5, 2.5}, mgl64.Vec3{0, -1, 0}

	if !tw.RequestDig() {
		t.Fatalf("request rejected")
	}
	tw.pump(<-tw.edits)
	if c.At(2, 1, 2).Def != 0 {
		t.Fatalf("dig not applied")
	}

	resp := make(chan bool, 1)
	tw.pump(EditRequest{Kind: EditBuild, Def: blockID("GLASS"), Resp: resp})
	if ok := <-resp; !ok {
		t.Fatalf("build request failed")
	}
	if c.At(2, 1, 2).Def != blockID("GLASS") {
		t.Fatalf("build not applied: def=%d", c.At(2, 1, 2).Def)
	}
	m := tw.Metrics()
	if m.DigTotal != 1 || m.BuildTotal != 1 {
		t.Fatalf("metrics dig=%d build=%d", m.DigTotal, m.BuildTotal)
	}
}

func TestBuildRequestIsAllOrNothing(t *testing.T) {
	tw := newTestWorld(t, roofedRoomConfig(), Deps{})
	c := tw.place(voxel.ChunkKey{}, fillLayers(blockID("STONE"), 0))
	tw.obs.pos, tw.obs.fwd = mgl64.Vec3{2.5, 4.5, 2.5}, mgl64.Vec3{0, -1, 0}
	before := tw.Selected()

	for i := 0; i < cap(tw.edits); i++ {
		if !tw.RequestEdit(EditRequest{Kind: EditSelect, Def: before}) {
			t.Fatalf("queue full after %d requests", i)
		}
	}
	if tw.RequestBuild(blockID("GLASS")) {
		t.Fatalf("build accepted into a full queue")
	}
	queued := make([]EditRequest, 0, len(tw.edits))
	for len(tw.edits) > 0 {
		queued = append(queued, <-tw.edits)
	}
	tw.pump(queued...)
	if tw.Selected() != before {
		t.Fatalf("rejected build changed selection to %d", tw.Selected())
	}

	if !tw.RequestBuild(blockID("GLASS")) {
		t.Fatalf("build rejected on empty queue")
	}
	req := <-tw.edits
	if req.Kind != EditBuild || req.Def != blockID("GLASS") {
		t.Fatalf("queued %+v", req)
	}
	tw.pump(req)
	if c.At(2, 1, 2).Def != blockID("GLASS") || tw.Selected() != blockID("GLASS") {
		t.Fatalf("build not applied: def=%d selected=%d", c.At(2, 1, 2).Def, tw.Selected())
	}
}

func TestEditQueueMetricCountsBacklog(t *testing.T) {
	tw := newTestWorld(t, roofedRoomConfig(), Deps{})
	tw.place(voxel.ChunkKey{}, fillLayers(blockID("STONE"), 0, 1, 2))
	tw.obs.pos, tw.obs.fwd = mgl64.Vec3{2.5, 6.5, 2.5}, mgl64.Vec3{0, -1, 0}

	for i := 0; i < 3; i++ {
		if !tw.RequestDig() {
			t.Fatalf("request %d rejected", i)
		}
	}
	tw.publishMetrics(0)
	if m := tw.Metrics(); m.EditQueue != 3 {
		t.Fatalf("edit queue=%d want 3", m.EditQueue)
	}

	tw.StepOnce(tw.takeEdits(nil))
	m := tw.Metrics()
	if m.EditQueue != 0 || m.LastEdits != 3 || m.DigTotal != 3 {
		t.Fatalf("edit queue=%d last edits=%d digs=%d", m.EditQueue, m.LastEdits, m.DigTotal)
	}
}

func TestAppliedEditsAreLogged(t *testing.T) {
	log := &recordingEditLog{}
	tw := newTestWorld(t, roofedRoomConfig(), Deps{Edits: log})
	stone, glass := blockID("STONE"), blockID("GLASS")
	tw.place(voxel.ChunkKey{}, fillLayers(stone, 0, 1))
	tw.DrainLight(0)

	tw.aim(mgl64.Vec3{2.5, 4.5, 2.5}, mgl64.Vec3{0, -1, 0})
	if !tw.Dig() {
		t.Fatalf("dig rejected")
	}
	tw.SetSelected(glass)
	if !tw.Build() {
		t.Fatalf("build rejected")
	}
	tw.aim(mgl64.Vec3{2.5, 4.5, 2.5}, mgl64.Vec3{0, 1, 0})
	tw.Dig()

	want := []EditEntry{
		{Kind: "DIG", Pos: [3]int{2, 1, 2}, From: stone, To: 0},
		{Kind: "BUILD", Pos: [3]int{2, 1, 2}, From: 0, To: glass},
	}
	if len(log.entries) != len(want) {
		t.Fatalf("entries=%+v", log.entries)
	}
	for i := range want {
		if log.entries[i] != want[i] {
			t.Fatalf("entry %d = %+v want %+v", i, log.entries[i], want[i])
		}
	}
}
