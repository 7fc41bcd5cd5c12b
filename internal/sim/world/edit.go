package world

import (
	"go.uber.org/zap"

	"voxelstream.ai/internal/sim/world/voxel"
)

type EditKind uint8

const (
	EditDig EditKind = iota + 1
	EditBuild
	EditSelect
)

func (k EditKind) String() string {
	switch k {
	case EditDig:
		return "DIG"
	case EditBuild:
		return "BUILD"
	case EditSelect:
		return "SELECT"
	default:
		return "UNKNOWN"
	}
}

// EditRequest is queued from other goroutines and applied at the next tick
// boundary. A build with a non-zero Def selects that block first. Resp, if
// set, receives whether the edit took effect.
type EditRequest struct {
	Kind EditKind
	Def  uint16
	Resp chan bool
}

// Dig removes the block under the current impact.
func (w *World) Dig() bool {
	if !w.impact.Hit {
		return false
	}
	it := w.impact.Block
	b := it.Block()
	if !w.mats.Breakable(b.Def) {
		return false
	}
	from := b.Def
	b.Def = w.cfg.AirBlock
	w.enqueueLight(it)
	w.dirtyEdges(it)

	// Sunlight falls through the new opening when the block above sees the sky.
	above, ok := it.Neighbor(w.reg, voxel.Up)
	if (!ok && w.isTopLayer(it)) || (ok && above.Block().Sky()) {
		cur := it
		for {
			cb := cur.Block()
			if w.mats.Opaque(cb.Def) {
				break
			}
			cb.Flags |= voxel.FlagSky
			w.enqueueLight(cur)
			next, ok := cur.Neighbor(w.reg, voxel.Down)
			if !ok {
				break
			}
			cur = next
		}
	}

	w.finishEdit(it, EditDig, from)
	w.counters.digs++
	return true
}

// Build places the selected block in the empty slot in front of the
// impacted face.
func (w *World) Build() bool {
	if !w.impact.Hit {
		return false
	}
	target, ok := w.impact.Block.Neighbor(w.reg, w.impact.Normal)
	if !ok {
		return false
	}
	tb := target.Block()
	if w.mats.Solid(tb.Def) {
		return false
	}
	def := w.selected
	from, wasSky := tb.Def, tb.Sky()
	tb.Def = def
	w.enqueueLight(target)
	w.dirtyEdges(target)

	// An opaque block seals the shaft below it from the sky.
	if wasSky && w.mats.Opaque(def) {
		tb.Flags &^= voxel.FlagSky
		cur := target
		for {
			next, ok := cur.Neighbor(w.reg, voxel.Down)
			if !ok {
				break
			}
			nb := next.Block()
			if !nb.Sky() {
				break
			}
			nb.Flags &^= voxel.FlagSky
			w.enqueueLight(next)
			cur = next
		}
	}

	w.finishEdit(target, EditBuild, from)
	w.counters.builds++
	return true
}

// dirtyEdges queues the matching block one hop into each neighbor chunk the
// edited block touches and marks that chunk's mesh stale.
func (w *World) dirtyEdges(it voxel.BlockIterator) {
	for _, f := range voxel.Horizontal {
		if !it.OnBoundary(f) {
			continue
		}
		n, ok := it.Neighbor(w.reg, f)
		if !ok {
			continue
		}
		w.enqueueLight(n)
		n.Chunk().MarkMeshStale()
	}
}

func (w *World) finishEdit(it voxel.BlockIterator, kind EditKind, from uint16) {
	c := it.Chunk()
	c.MarkEdited()
	c.MarkMeshStale()
	if w.editLog != nil {
		x, y, z := it.World()
		e := EditEntry{
			Tick: w.tick.Load(),
			Kind: kind.String(),
			Pos:  [3]int{x, y, z},
			From: from,
			To:   it.Block().Def,
		}
		if err := w.editLog.RecordEdit(e); err != nil {
			w.log.Warn("edit log write failed", zap.Error(err))
		}
	}
	w.refreshImpact()
}

func (w *World) isTopLayer(it voxel.BlockIterator) bool {
	_, y, _ := it.Local()
	return y == it.Chunk().Dims.Y-1
}

func (w *World) applyEdit(req EditRequest) bool {
	switch req.Kind {
	case EditDig:
		return w.Dig()
	case EditBuild:
		if req.Def != 0 {
			w.SetSelected(req.Def)
		}
		return w.Build()
	case EditSelect:
		w.SetSelected(req.Def)
		return true
	}
	return false
}

// RequestEdit queues an edit for the next tick without blocking. It returns
// false when the queue is full.
func (w *World) RequestEdit(req EditRequest) bool {
	select {
	case w.edits <- req:
		return true
	default:
		return false
	}
}

func (w *World) RequestDig() bool { return w.RequestEdit(EditRequest{Kind: EditDig}) }

// RequestBuild selects def and builds it on the next tick.
func (w *World) RequestBuild(def uint16) bool {
	return w.RequestEdit(EditRequest{Kind: EditBuild, Def: def})
}
