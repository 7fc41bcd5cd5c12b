package world

import (
	"voxelstream.ai/internal/sim/world/voxel"
)

// enqueueLight adds a block to the dirty-light queue unless it is already
// waiting there.
func (w *World) enqueueLight(it voxel.BlockIterator) bool {
	b := it.Block()
	if b.Dirty() {
		return false
	}
	b.Flags |= voxel.FlagLightDirty
	w.dirty.PushBack(it)
	return true
}

// DrainLight recomputes queued blocks until the queue is empty, or until
// budget entries were processed when budget > 0. It returns the number of
// blocks processed.
func (w *World) DrainLight(budget int) int {
	n := 0
	for w.dirty.Len() > 0 {
		if budget > 0 && n >= budget {
			break
		}
		it := w.dirty.PopFront()
		it.Block().Flags &^= voxel.FlagLightDirty
		w.relightBlock(it)
		n++
	}
	return n
}

// lightCandidate is the level a block would settle at given its current
// neighbors: its own emission, or one less than the brightest face neighbor
// for light-passing blocks, with sky blocks pinned to full outdoor light.
func (w *World) lightCandidate(it voxel.BlockIterator) (indoor, outdoor uint8) {
	b := it.Block()
	indoor = w.mats.Emission(b.Def)
	if indoor > voxel.MaxLight {
		indoor = voxel.MaxLight
	}
	if !w.mats.Opaque(b.Def) {
		var maxIn, maxOut uint8
		for _, f := range voxel.Faces {
			n, ok := it.Neighbor(w.reg, f)
			if !ok {
				continue
			}
			nb := n.Block()
			maxIn = max(maxIn, nb.Indoor)
			maxOut = max(maxOut, nb.Outdoor)
		}
		if maxIn > 0 {
			indoor = max(indoor, maxIn-1)
		}
		if maxOut > 0 {
			outdoor = maxOut - 1
		}
	}
	if b.Sky() {
		outdoor = voxel.MaxLight
	}
	return indoor, outdoor
}

func (w *World) relightBlock(it voxel.BlockIterator) {
	in, out := w.lightCandidate(it)
	b := it.Block()
	if b.Indoor == in && b.Outdoor == out {
		return
	}
	b.Indoor = in
	b.Outdoor = out

	c := it.Chunk()
	c.MarkMeshStale()
	for _, f := range voxel.Horizontal {
		if !it.OnBoundary(f) {
			continue
		}
		if nc := w.reg.Neighbor(c.Key, f); nc != nil {
			nc.MarkMeshStale()
		}
	}
	for _, f := range voxel.Faces {
		n, ok := it.Neighbor(w.reg, f)
		if !ok || w.mats.Opaque(n.Block().Def) {
			continue
		}
		w.enqueueLight(n)
	}
}

// seedChunk computes sky flags for a chunk entering the working set and
// queues every block whose light may differ from its fixed point.
func (w *World) seedChunk(c *voxel.Chunk) {
	if c.NeedsRelight() {
		c.ResetLight()
		c.SetRelight(false)
	}
	d := c.Dims

	for z := 0; z < d.Z; z++ {
		for x := 0; x < d.X; x++ {
			sky := true
			for y := d.Y - 1; y >= 0; y-- {
				b := c.At(x, y, z)
				if sky && w.mats.Opaque(b.Def) {
					sky = false
				}
				if sky {
					b.Flags |= voxel.FlagSky
					b.Outdoor = voxel.MaxLight
				} else {
					b.Flags &^= voxel.FlagSky
				}
			}
		}
	}

	for i := range c.Blocks {
		b := &c.Blocks[i]
		x, y, z := c.Local(i)
		it := c.Iter(x, y, z)
		if w.mats.Emission(b.Def) > 0 {
			w.enqueueLight(it)
		}
		if !b.Sky() {
			continue
		}
		// Light leaking sideways under overhangs, also into neighbor chunks.
		for _, f := range voxel.Horizontal {
			n, ok := it.Neighbor(w.reg, f)
			if !ok {
				continue
			}
			nb := n.Block()
			if !nb.Sky() && !w.mats.Opaque(nb.Def) {
				w.enqueueLight(n)
			}
		}
	}

	for _, f := range voxel.Horizontal {
		w.seedBoundary(c, f)
	}
}

// seedBoundary reconciles one edge of a newly active chunk. With a neighbor
// present, whichever side can gain light from the other is queued and the
// neighbor's mesh goes stale. Lit blocks on an edge without a neighbor are
// queued too: a chunk read back from storage may carry light that came from
// a chunk that is no longer active.
func (w *World) seedBoundary(c *voxel.Chunk, f voxel.Face) {
	nc := w.reg.Neighbor(c.Key, f)
	if nc != nil {
		nc.MarkMeshStale()
	}
	forEachBoundaryBlock(c, f, func(it voxel.BlockIterator) {
		b := it.Block()
		ownOpaque := w.mats.Opaque(b.Def)
		if !ownOpaque && carriesBorrowedLight(b) {
			w.enqueueLight(it)
		}
		if nc == nil {
			return
		}
		n, ok := it.Neighbor(w.reg, f)
		if !ok {
			return
		}
		nb := n.Block()
		if !ownOpaque && canGain(b, nb) {
			w.enqueueLight(it)
		}
		if !w.mats.Opaque(nb.Def) && canGain(nb, b) {
			w.enqueueLight(n)
		}
	})
}

// redirtyBorder queues the lit blocks of c that face direction f, after the
// chunk on that side left the working set.
func (w *World) redirtyBorder(c *voxel.Chunk, f voxel.Face) int {
	n := 0
	forEachBoundaryBlock(c, f, func(it voxel.BlockIterator) {
		b := it.Block()
		if w.mats.Opaque(b.Def) || !carriesBorrowedLight(b) {
			return
		}
		if w.enqueueLight(it) {
			n++
		}
	})
	c.MarkMeshStale()
	return n
}

// purgeChunkLight removes every queued entry that belongs to c and clears
// their dirty flags. It returns the number of entries removed.
func (w *World) purgeChunkLight(c *voxel.Chunk) int {
	purged := 0
	n := w.dirty.Len()
	for i := 0; i < n; i++ {
		it := w.dirty.PopFront()
		if it.Chunk() == c {
			it.Block().Flags &^= voxel.FlagLightDirty
			purged++
			continue
		}
		w.dirty.PushBack(it)
	}
	return purged
}

// canGain reports whether dst would brighten from its neighbor src.
func canGain(dst, src *voxel.Block) bool {
	return src.Indoor > dst.Indoor+1 || src.Outdoor > dst.Outdoor+1
}

// carriesBorrowedLight reports light that must have come from elsewhere.
func carriesBorrowedLight(b *voxel.Block) bool {
	return b.Indoor > 0 || (b.Outdoor > 0 && !b.Sky())
}

func forEachBoundaryBlock(c *voxel.Chunk, f voxel.Face, fn func(voxel.BlockIterator)) {
	d := c.Dims
	switch f {
	case voxel.East, voxel.West:
		x := 0
		if f == voxel.East {
			x = d.X - 1
		}
		for y := 0; y < d.Y; y++ {
			for z := 0; z < d.Z; z++ {
				fn(c.Iter(x, y, z))
			}
		}
	case voxel.South, voxel.North:
		z := 0
		if f == voxel.South {
			z = d.Z - 1
		}
		for y := 0; y < d.Y; y++ {
			for x := 0; x < d.X; x++ {
				fn(c.Iter(x, y, z))
			}
		}
	}
}
