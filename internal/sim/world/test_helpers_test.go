package world

import (
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"voxelstream.ai/internal/sim/catalogs"
	"voxelstream.ai/internal/sim/jobs"
	"voxelstream.ai/internal/sim/world/mesh"
	"voxelstream.ai/internal/sim/world/terrain/gen"
	"voxelstream.ai/internal/sim/world/voxel"
)

var testBlocks = &catalogs.Default().Blocks

func blockID(name string) uint16 { return testBlocks.MustID(name) }

type fixedObserver struct {
	pos, fwd mgl64.Vec3
}

func (o *fixedObserver) Pose() (mgl64.Vec3, mgl64.Vec3) { return o.pos, o.fwd }

type recordingRenderer struct {
	mu      sync.Mutex
	submits map[voxel.ChunkKey]int
	removes []voxel.ChunkKey
}

func newRecordingRenderer() *recordingRenderer {
	return &recordingRenderer{submits: map[voxel.ChunkKey]int{}}
}

func (r *recordingRenderer) Submit(k voxel.ChunkKey, _ *mesh.Mesh) {
	r.mu.Lock()
	r.submits[k]++
	r.mu.Unlock()
}

func (r *recordingRenderer) Remove(k voxel.ChunkKey) {
	r.mu.Lock()
	r.removes = append(r.removes, k)
	r.mu.Unlock()
}

type recordingSink struct {
	entries []ChunkSaveEntry
}

func (s *recordingSink) RecordSave(e ChunkSaveEntry) { s.entries = append(s.entries, e) }

type recordingEditLog struct {
	entries []EditEntry
}

func (l *recordingEditLog) RecordEdit(e EditEntry) error {
	l.entries = append(l.entries, e)
	return nil
}

func testConfig() WorldConfig {
	return WorldConfig{
		Seed:             1,
		TickRateHz:       20,
		ChunkSize:        voxel.Dims{X: 4, Y: 8, Z: 4},
		MaxChunks:        9,
		MaxChunkRadius:   2,
		ActivateRadius:   6,
		DeactivateRadius: 10,
		MaxQueuedJobs:    2,
		ReachDistance:    6,
	}
}

type testWorld struct {
	*World
	pool *jobs.Pool
	obs  *fixedObserver
}

func newTestWorld(t *testing.T, cfg WorldConfig, deps Deps) *testWorld {
	t.Helper()
	pool := jobs.New(0, nil)
	t.Cleanup(pool.Close)
	obs := &fixedObserver{pos: mgl64.Vec3{0.5, float64(cfg.ChunkSize.Y) - 0.5, 0.5}, fwd: mgl64.Vec3{0, -1, 0}}

	deps.Materials = testBlocks
	deps.Jobs = pool
	if deps.Synth == nil {
		deps.Synth = gen.Flat{Height: 2, Ground: blockID("STONE")}
	}
	if deps.Observer == nil {
		deps.Observer = obs
	}
	deps.Logger = zap.NewNop()
	w, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testWorld{World: w, pool: pool, obs: obs}
}

// pump runs every queued job on the test goroutine and then steps once.
func (tw *testWorld) pump(edits ...EditRequest) {
	for tw.pool.RunOne() {
	}
	tw.StepOnce(edits)
}

// place activates a chunk directly, bypassing the job pool.
func (tw *testWorld) place(k voxel.ChunkKey, fill func(c *voxel.Chunk)) *voxel.Chunk {
	c := voxel.NewChunk(k, tw.cfg.ChunkSize)
	if fill != nil {
		fill(c)
	}
	tw.activate(c)
	return c
}

// aim points the observer and refreshes the impact without stepping.
func (tw *testWorld) aim(pos, fwd mgl64.Vec3) RaycastResult {
	tw.obs.pos, tw.obs.fwd = pos, fwd
	tw.readObserver()
	tw.refreshImpact()
	return tw.impact
}

func fillLayers(def uint16, ys ...int) func(c *voxel.Chunk) {
	return func(c *voxel.Chunk) {
		for _, y := range ys {
			for z := 0; z < c.Dims.Z; z++ {
				for x := 0; x < c.Dims.X; x++ {
					c.At(x, y, z).Def = def
				}
			}
		}
	}
}

// assertLightConverged checks that the queue is empty and every active block
// sits at its fixed point with consistent sky flags.
func assertLightConverged(t *testing.T, w *World) {
	t.Helper()
	if w.DirtyLen() != 0 {
		t.Fatalf("dirty queue not empty: %d", w.DirtyLen())
	}
	for _, k := range w.reg.Keys() {
		c := w.reg.Get(k)
		for i := range c.Blocks {
			x, y, z := c.Local(i)
			it := c.Iter(x, y, z)
			b := it.Block()
			if b.Dirty() {
				t.Fatalf("%v (%d,%d,%d) still flagged dirty", k, x, y, z)
			}
			if b.Indoor > voxel.MaxLight || b.Outdoor > voxel.MaxLight {
				t.Fatalf("%v (%d,%d,%d) light out of range: %d/%d", k, x, y, z, b.Indoor, b.Outdoor)
			}
			in, out := w.lightCandidate(it)
			if b.Indoor != in || b.Outdoor != out {
				t.Fatalf("%v (%d,%d,%d) light=%d/%d fixed point=%d/%d", k, x, y, z, b.Indoor, b.Outdoor, in, out)
			}
		}
		for z := 0; z < c.Dims.Z; z++ {
			for x := 0; x < c.Dims.X; x++ {
				open := true
				for y := c.Dims.Y - 1; y >= 0; y-- {
					b := c.At(x, y, z)
					if open && testBlocks.Opaque(b.Def) {
						open = false
					}
					if b.Sky() != open {
						t.Fatalf("%v column (%d,%d) y=%d sky=%v want %v", k, x, z, y, b.Sky(), open)
					}
				}
			}
		}
	}
}

func assertNoDuplicateGeneration(t *testing.T, w *World) {
	t.Helper()
	for k := range w.generating {
		if w.reg.Has(k) {
			t.Fatalf("%v both active and generating", k)
		}
	}
}
