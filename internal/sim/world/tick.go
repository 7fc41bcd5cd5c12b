package world

import (
	"context"
	"time"

	"voxelstream.ai/internal/sim/world/mesh"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []EditRequest
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case <-ticker.C:
			pending = w.takeEdits(pending[:0])
			w.StepOnce(pending)
		}
	}
}

// Stop ends Run. It is safe to call more than once.
func (w *World) Stop() { w.stopOnce.Do(func() { close(w.stop) }) }

// takeEdits moves every queued request into buf without blocking.
func (w *World) takeEdits(buf []EditRequest) []EditRequest {
	for {
		select {
		case req := <-w.edits:
			buf = append(buf, req)
		default:
			return buf
		}
	}
}

// StepOnce advances the world by one tick, applying edits in order after the
// aim target has been refreshed. It returns the tick that was simulated.
func (w *World) StepOnce(edits []EditRequest) uint64 {
	stepStart := time.Now()
	nowTick := w.tick.Load()

	w.readObserver()
	w.pollGeneration()
	w.refreshImpact()

	w.counters.lastEdits = len(edits)
	for _, req := range edits {
		ok := w.applyEdit(req)
		if req.Resp != nil {
			select {
			case req.Resp <- ok:
			default:
			}
		}
	}

	w.counters.lastDrain = w.DrainLight(w.cfg.LightBudgetPerTick)

	w.deactivateOverCapacity()
	w.deactivateOutOfRange()
	w.activateNearestMissing()

	w.rebuildMeshes()

	w.tick.Add(1)
	w.publishMetrics(time.Since(stepStart))
	return nowTick
}

func (w *World) readObserver() {
	if w.observer != nil {
		pos, fwd := w.observer.Pose()
		w.obsPos = pos
		if fwd.Len() > 0 {
			w.obsFwd = fwd.Normalize()
		}
	}
	w.obsKey = w.chunkKeyAt(w.obsPos)
}

// rebuildMeshes hands every stale chunk's surface to the renderer in key
// order.
func (w *World) rebuildMeshes() int {
	n := 0
	for _, k := range w.reg.Keys() {
		c := w.reg.Get(k)
		if !c.MeshStale() {
			continue
		}
		if w.renderer != nil {
			w.renderer.Submit(k, mesh.Build(c, w.reg, w.mats, w.cfg.AirBlock))
		}
		c.ClearMeshStale()
		n++
	}
	return n
}
