package world

import (
	"encoding/hex"

	"go.uber.org/zap"

	"voxelstream.ai/internal/sim/world/voxel"
)

// pollGeneration takes at most one finished generation job and activates
// its chunk.
func (w *World) pollGeneration() {
	j, ok := w.jobs.TryRetrieve(GenerationKind)
	if !ok {
		return
	}
	gj, ok := j.(*GenerationJob)
	if !ok {
		w.log.Error("unexpected job on generation queue", zap.String("kind", j.Kind()))
		return
	}
	delete(w.generating, gj.Key)

	c := gj.Chunk()
	if c == nil {
		// The next streaming pass asks for the coordinate again.
		w.counters.jobPanics++
		w.log.Error("chunk generation failed", zap.Stringer("chunk", gj.Key), zap.Any("panic", gj.Panic()))
		return
	}
	if gj.loadErr != nil {
		w.counters.loadFailures++
	}
	if gj.Loaded() {
		w.counters.loaded++
	}
	w.activate(c)
}

// activate publishes a generated chunk into the working set and seeds its
// light. Neighbor adjacency is implied by the registry key.
func (w *World) activate(c *voxel.Chunk) {
	if w.reg.Has(c.Key) {
		w.log.Warn("dropping duplicate chunk", zap.Stringer("chunk", c.Key))
		return
	}
	w.reg.Put(c)
	w.seedChunk(c)
	c.State = voxel.StateActive
	c.MarkMeshStale()
	w.counters.activated++
}

// deactivateOverCapacity removes the chunk farthest from the observer while
// the working set is above MaxChunks. Ties go to the first key in sorted
// order.
func (w *World) deactivateOverCapacity() bool {
	if w.reg.Len() <= w.cfg.MaxChunks {
		return false
	}
	var far *voxel.Chunk
	best := -1
	for _, k := range w.reg.Keys() {
		if d := k.Dist2(w.obsKey); d > best {
			best = d
			far = w.reg.Get(k)
		}
	}
	if far == nil {
		return false
	}
	w.deactivate(far, "capacity")
	return true
}

// deactivateOutOfRange removes the farthest chunk beyond DeactivateRadius.
func (w *World) deactivateOutOfRange() bool {
	limit := w.cfg.deactivateLimit2()
	var far *voxel.Chunk
	best := -1
	for _, k := range w.reg.Keys() {
		d := k.Dist2(w.obsKey)
		if float64(d) <= limit {
			continue
		}
		if d > best {
			best = d
			far = w.reg.Get(k)
		}
	}
	if far == nil {
		return false
	}
	w.deactivate(far, "range")
	return true
}

// activateNearestMissing requests generation of the nearest coordinate
// inside ActivateRadius that is neither active nor already generating.
func (w *World) activateNearestMissing() bool {
	if w.jobs.Queued(GenerationKind) >= w.cfg.MaxQueuedJobs {
		return false
	}
	if w.reg.Len()+len(w.generating) >= w.cfg.MaxChunks {
		return false
	}

	limit := w.cfg.activateLimit2()
	r := w.cfg.MaxChunkRadius
	var (
		pick  voxel.ChunkKey
		found bool
		best  = limit
	)
	for dz := -r; dz <= r; dz++ {
		for dx := -r; dx <= r; dx++ {
			k := voxel.ChunkKey{CX: w.obsKey.CX + dx, CZ: w.obsKey.CZ + dz}
			if w.reg.Has(k) {
				continue
			}
			if _, ok := w.generating[k]; ok {
				continue
			}
			if d := float64(dx*dx + dz*dz); d < best {
				best = d
				pick = k
				found = true
			}
		}
	}
	if !found {
		return false
	}
	if err := w.jobs.Submit(w.newGenerationJob(pick)); err != nil {
		w.counters.submitRejects++
		w.log.Warn("generation submit rejected", zap.Stringer("chunk", pick), zap.Error(err))
		return false
	}
	w.generating[pick] = struct{}{}
	return true
}

// deactivate removes c from the working set, saving it first if it holds
// unsaved edits.
func (w *World) deactivate(c *voxel.Chunk, reason string) {
	c.State = voxel.StateDeactivating

	// Pending light work cannot run once the chunk is gone; flag the saved
	// copy so its light is rebuilt when it comes back.
	if w.purgeChunkLight(c) > 0 && c.Edited() {
		c.SetRelight(true)
	}
	if c.Edited() {
		w.saveChunk(c, reason)
	}

	w.reg.Delete(c.Key)
	for _, f := range voxel.Horizontal {
		if nc := w.reg.Neighbor(c.Key, f); nc != nil {
			w.redirtyBorder(nc, f.Opposite())
		}
	}
	if w.renderer != nil {
		w.renderer.Remove(c.Key)
	}
	c.State = voxel.StateDestroyed
	w.counters.deactivated++
	w.log.Debug("chunk deactivated", zap.Stringer("chunk", c.Key), zap.String("reason", reason))
}

func (w *World) saveChunk(c *voxel.Chunk, reason string) bool {
	if w.storage == nil {
		return false
	}
	if err := w.storage.Save(c); err != nil {
		w.counters.saveFailures++
		w.log.Error("chunk save failed", zap.Stringer("chunk", c.Key), zap.Error(err))
		return false
	}
	c.ClearEdited()
	w.counters.saves++
	if w.saves != nil {
		digest := c.Digest()
		e := ChunkSaveEntry{
			Tick:   w.tick.Load(),
			Seed:   w.cfg.Seed,
			Key:    c.Key,
			Blocks: len(c.Blocks),
			Digest: hex.EncodeToString(digest[:]),
			Reason: reason,
		}
		if p, ok := w.storage.(interface{ Path(voxel.ChunkKey) string }); ok {
			e.Path = p.Path(c.Key)
		}
		w.saves.RecordSave(e)
	}
	return true
}

// SaveAll drains pending light and writes every edited active chunk. Call it
// from the world goroutine or after Run has returned.
func (w *World) SaveAll(reason string) int {
	w.DrainLight(0)
	n := 0
	for _, k := range w.reg.Keys() {
		c := w.reg.Get(k)
		if c.Edited() && w.saveChunk(c, reason) {
			n++
		}
	}
	return n
}
