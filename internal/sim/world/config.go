package world

import (
	"fmt"

	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/sim/world/voxel"
)

type WorldConfig struct {
	Seed       int64
	TickRateHz int
	ChunkSize  voxel.Dims

	// Streaming. Radii are in world units (blocks).
	MaxChunks        int
	MaxChunkRadius   int
	ActivateRadius   float64
	DeactivateRadius float64
	MaxQueuedJobs    int

	// LightBudgetPerTick caps light recomputations per tick; 0 drains the
	// queue completely every tick.
	LightBudgetPerTick int

	ReachDistance float64

	AirBlock          uint16
	DefaultBuildBlock uint16
}

// ConfigFromTuning maps the tuning file onto a world config.
func ConfigFromTuning(t tuning.Tuning) WorldConfig {
	c := WorldConfig{
		Seed:               t.Seed,
		TickRateHz:         t.TickRateHz,
		MaxChunks:          t.MaxChunks,
		MaxChunkRadius:     t.MaxChunkRadius,
		ActivateRadius:     t.ActivateRadius,
		DeactivateRadius:   t.DeactivateRadius,
		MaxQueuedJobs:      t.MaxQueuedJobs,
		LightBudgetPerTick: t.LightBudgetPerTick,
		ReachDistance:      t.ReachDistance,
	}
	if len(t.ChunkSize) == 3 {
		c.ChunkSize = voxel.Dims{X: t.ChunkSize[0], Y: t.ChunkSize[1], Z: t.ChunkSize[2]}
	}
	return c
}

func (c *WorldConfig) applyDefaults() {
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.ChunkSize == (voxel.Dims{}) {
		c.ChunkSize = voxel.Dims{X: 16, Y: 64, Z: 16}
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = 81
	}
	if c.ActivateRadius <= 0 {
		c.ActivateRadius = 5 * float64(c.ChunkSize.X)
	}
	if c.DeactivateRadius <= 0 {
		c.DeactivateRadius = c.ActivateRadius + 2*float64(c.ChunkSize.X)
	}
	if c.MaxChunkRadius <= 0 {
		c.MaxChunkRadius = int(c.ActivateRadius)/max(c.ChunkSize.X, 1) + 1
	}
	if c.MaxQueuedJobs <= 0 {
		c.MaxQueuedJobs = 4
	}
	if c.LightBudgetPerTick < 0 {
		c.LightBudgetPerTick = 0
	}
	if c.ReachDistance <= 0 {
		c.ReachDistance = 6
	}
}

func (c WorldConfig) validate() error {
	if err := c.ChunkSize.Validate(); err != nil {
		return err
	}
	if c.ChunkSize.X != c.ChunkSize.Z {
		return fmt.Errorf("chunk footprint must be square: got %dx%d", c.ChunkSize.X, c.ChunkSize.Z)
	}
	if c.DeactivateRadius < c.ActivateRadius {
		return fmt.Errorf("deactivate radius %v below activate radius %v", c.DeactivateRadius, c.ActivateRadius)
	}
	return nil
}

// activateLimit2 and deactivateLimit2 convert the world-unit radii to
// squared chunk-grid distances. validate keeps the footprint square.
func (c WorldConfig) activateLimit2() float64 {
	r := c.ActivateRadius / float64(c.ChunkSize.X)
	return r * r
}

func (c WorldConfig) deactivateLimit2() float64 {
	r := c.DeactivateRadius / float64(c.ChunkSize.X)
	return r * r
}
