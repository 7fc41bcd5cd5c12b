package world

import (
	"fmt"

	"go.uber.org/zap"

	"voxelstream.ai/internal/sim/jobs"
	"voxelstream.ai/internal/sim/world/voxel"
)

// GenerationKind routes completed generation jobs back to the world.
const GenerationKind = "chunkgen"

// GenerationJob builds one chunk off the world goroutine. The chunk is
// private to the job until the world retrieves it.
type GenerationJob struct {
	jobs.Lifecycle

	Key voxel.ChunkKey

	dims    voxel.Dims
	storage ChunkStorage
	synth   Synthesizer
	log     *zap.Logger

	chunk   *voxel.Chunk
	loaded  bool
	loadErr error
}

func (w *World) newGenerationJob(k voxel.ChunkKey) *GenerationJob {
	return &GenerationJob{
		Key:     k,
		dims:    w.cfg.ChunkSize,
		storage: w.storage,
		synth:   w.synth,
		log:     w.log,
	}
}

func (j *GenerationJob) Kind() string { return GenerationKind }

func (j *GenerationJob) Run() {
	if j.storage != nil {
		c, ok, err := j.load()
		switch {
		case err != nil:
			// Unreadable saves fall back to fresh terrain.
			j.loadErr = err
			j.log.Warn("chunk load failed", zap.Stringer("chunk", j.Key), zap.Error(err))
		case ok:
			j.chunk = c
			j.loaded = true
			return
		}
	}
	c := voxel.NewChunk(j.Key, j.dims)
	j.synth.Populate(c)
	j.chunk = c
}

// load reports a storage panic as a load error.
func (j *GenerationJob) load() (c *voxel.Chunk, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, ok, err = nil, false, fmt.Errorf("load %s panicked: %v", j.Key, r)
		}
	}()
	return j.storage.Load(j.Key)
}

// Chunk returns the finished chunk; nil until the job completed without
// panicking.
func (j *GenerationJob) Chunk() *voxel.Chunk {
	if j.State() < jobs.StateCompleted || j.Panic() != nil {
		return nil
	}
	return j.chunk
}

func (j *GenerationJob) Loaded() bool { return j.loaded }
