package world

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"voxelstream.ai/internal/sim/jobs"
	"voxelstream.ai/internal/sim/world/mesh"
	"voxelstream.ai/internal/sim/world/voxel"
)

// Materials answers per-definition questions about blocks.
type Materials interface {
	Opaque(id uint16) bool
	Solid(id uint16) bool
	Emission(id uint16) uint8
	Breakable(id uint16) bool
}

// ChunkStorage persists edited chunks. Load reports (nil, false, nil) when
// nothing was saved for the key. Load is called from worker goroutines.
type ChunkStorage interface {
	Load(k voxel.ChunkKey) (*voxel.Chunk, bool, error)
	Save(c *voxel.Chunk) error
}

// Synthesizer fills a freshly allocated chunk with terrain. It runs on
// worker goroutines and must not retain the chunk.
type Synthesizer interface {
	Populate(c *voxel.Chunk)
}

// Renderer consumes chunk meshes. Calls come from the world loop goroutine
// and must not block.
type Renderer interface {
	Submit(k voxel.ChunkKey, m *mesh.Mesh)
	Remove(k voxel.ChunkKey)
}

// Observer supplies the viewpoint that drives streaming and raycasts.
type Observer interface {
	Pose() (pos, forward mgl64.Vec3)
}

// JobQueue is the part of the worker pool the world uses.
type JobQueue interface {
	Submit(j jobs.Job) error
	TryRetrieve(kind string) (jobs.Job, bool)
	Queued(kind string) int
}

// SaveSink receives a record of every chunk written to storage.
type SaveSink interface {
	RecordSave(e ChunkSaveEntry)
}

type ChunkSaveEntry struct {
	Tick   uint64         `json:"tick"`
	Seed   int64          `json:"seed"`
	Key    voxel.ChunkKey `json:"key"`
	Path   string         `json:"path,omitempty"`
	Blocks int            `json:"blocks"`
	Digest string         `json:"digest"`
	Reason string         `json:"reason"`
}

// EditLog receives every applied dig or build. It is called from the world
// loop goroutine.
type EditLog interface {
	RecordEdit(e EditEntry) error
}

type EditEntry struct {
	Tick uint64 `json:"tick"`
	Kind string `json:"kind"`
	Pos  [3]int `json:"pos"`
	From uint16 `json:"from"`
	To   uint16 `json:"to"`
}

// Deps are the collaborators a World is wired to. Storage, Renderer,
// Observer, Saves and Edits may be nil.
type Deps struct {
	Materials Materials
	Jobs      JobQueue
	Synth     Synthesizer
	Storage   ChunkStorage
	Renderer  Renderer
	Observer  Observer
	Saves     SaveSink
	Edits     EditLog
	Logger    *zap.Logger
}

// World is a single-threaded streaming voxel simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg WorldConfig
	log *zap.Logger

	mats     Materials
	jobs     JobQueue
	synth    Synthesizer
	storage  ChunkStorage
	renderer Renderer
	observer Observer
	saves    SaveSink
	editLog  EditLog

	tick atomic.Uint64

	reg        *voxel.Registry
	generating map[voxel.ChunkKey]struct{}
	dirty      deque.Deque[voxel.BlockIterator]

	obsPos   mgl64.Vec3
	obsFwd   mgl64.Vec3
	obsKey   voxel.ChunkKey
	impact   RaycastResult
	selected uint16

	edits    chan EditRequest
	stop     chan struct{}
	stopOnce sync.Once

	counters counters
	metrics  atomic.Value
}

type counters struct {
	lastDrain     int
	lastEdits     int
	activated     uint64
	loaded        uint64
	deactivated   uint64
	saves         uint64
	saveFailures  uint64
	loadFailures  uint64
	jobPanics     uint64
	submitRejects uint64
	digs          uint64
	builds        uint64
}

func New(cfg WorldConfig, deps Deps) (*World, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("world config: %w", err)
	}
	if deps.Materials == nil {
		return nil, fmt.Errorf("world: nil materials")
	}
	if deps.Jobs == nil {
		return nil, fmt.Errorf("world: nil job queue")
	}
	if deps.Synth == nil {
		return nil, fmt.Errorf("world: nil synthesizer")
	}
	if deps.Materials.Opaque(cfg.AirBlock) || deps.Materials.Solid(cfg.AirBlock) {
		return nil, fmt.Errorf("world: air block %d must be non-solid and non-opaque", cfg.AirBlock)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &World{
		cfg:        cfg,
		log:        logger,
		mats:       deps.Materials,
		jobs:       deps.Jobs,
		synth:      deps.Synth,
		storage:    deps.Storage,
		renderer:   deps.Renderer,
		observer:   deps.Observer,
		saves:      deps.Saves,
		editLog:    deps.Edits,
		reg:        voxel.NewRegistry(),
		generating: map[voxel.ChunkKey]struct{}{},
		obsPos:     mgl64.Vec3{0, float64(cfg.ChunkSize.Y), 0},
		obsFwd:     mgl64.Vec3{0, 0, -1},
		selected:   cfg.DefaultBuildBlock,
		edits:      make(chan EditRequest, 64),
		stop:       make(chan struct{}),
	}
	w.obsKey = w.chunkKeyAt(w.obsPos)
	w.publishMetrics(0)
	return w, nil
}

func (w *World) Config() WorldConfig { return w.cfg }

// Registry exposes the working set. Only the world loop goroutine (or a
// caller that owns a stopped world) may use it.
func (w *World) Registry() *voxel.Registry { return w.reg }

func (w *World) Tick() uint64 { return w.tick.Load() }

// Generating reports whether a generation job is outstanding for k.
func (w *World) Generating(k voxel.ChunkKey) bool {
	_, ok := w.generating[k]
	return ok
}

func (w *World) GeneratingCount() int { return len(w.generating) }

func (w *World) DirtyLen() int { return w.dirty.Len() }

func (w *World) Impact() RaycastResult { return w.impact }

func (w *World) Selected() uint16 { return w.selected }

// SetSelected chooses the block definition Build places.
func (w *World) SetSelected(def uint16) { w.selected = def }

// chunkKeyAt returns the chunk containing world position p.
func (w *World) chunkKeyAt(p mgl64.Vec3) voxel.ChunkKey {
	bx, _, bz := blockCoord(p)
	return voxel.ChunkKey{
		CX: voxel.FloorDiv(bx, w.cfg.ChunkSize.X),
		CZ: voxel.FloorDiv(bz, w.cfg.ChunkSize.Z),
	}
}

// BlockAt resolves a world block coordinate to an active block.
func (w *World) BlockAt(x, y, z int) (voxel.BlockIterator, bool) {
	d := w.cfg.ChunkSize
	if y < 0 || y >= d.Y {
		return voxel.BlockIterator{}, false
	}
	c := w.reg.Get(voxel.ChunkKey{CX: voxel.FloorDiv(x, d.X), CZ: voxel.FloorDiv(z, d.Z)})
	if c == nil {
		return voxel.BlockIterator{}, false
	}
	return c.Iter(voxel.Mod(x, d.X), y, voxel.Mod(z, d.Z)), true
}
