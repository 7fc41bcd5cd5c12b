package voxel

import "sort"

// Registry is the working set: active chunks keyed by coordinate.
// Accessed only from the world loop goroutine.
//
// Chunks never hold pointers to each other. Adjacency is resolved on demand
// by coordinate arithmetic, so a removed chunk can never be reached through
// a stale neighbor link.
type Registry struct {
	chunks map[ChunkKey]*Chunk
}

func NewRegistry() *Registry {
	return &Registry{chunks: map[ChunkKey]*Chunk{}}
}

func (r *Registry) Get(k ChunkKey) *Chunk { return r.chunks[k] }

func (r *Registry) Has(k ChunkKey) bool {
	_, ok := r.chunks[k]
	return ok
}

func (r *Registry) Put(c *Chunk) { r.chunks[c.Key] = c }

func (r *Registry) Delete(k ChunkKey) { delete(r.chunks, k) }

func (r *Registry) Len() int { return len(r.chunks) }

// Keys returns the active keys sorted by (CX, CZ).
func (r *Registry) Keys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(r.chunks))
	for k := range r.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

// Neighbor returns the active chunk adjacent to k in direction f, or nil.
// Vertical faces have no chunk neighbor.
func (r *Registry) Neighbor(k ChunkKey, f Face) *Chunk {
	if f == Up || f == Down {
		return nil
	}
	return r.chunks[k.Offset(f)]
}

// Links is a point-in-time view of a chunk's four horizontal neighbors.
type Links struct {
	East, West, South, North *Chunk
}

func (r *Registry) Links(k ChunkKey) Links {
	return Links{
		East:  r.Neighbor(k, East),
		West:  r.Neighbor(k, West),
		South: r.Neighbor(k, South),
		North: r.Neighbor(k, North),
	}
}
