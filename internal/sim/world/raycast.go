package world

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"voxelstream.ai/internal/sim/world/voxel"
)

// RaycastResult is either a miss (Hit == false) or the first solid block
// along a ray. Normal is the face of Block the ray entered through.
type RaycastResult struct {
	Hit      bool
	Pos      mgl64.Vec3
	Normal   voxel.Face
	Distance float64
	Block    voxel.BlockIterator
}

func blockCoord(p mgl64.Vec3) (x, y, z int) {
	return int(math.Floor(p[0])), int(math.Floor(p[1])), int(math.Floor(p[2]))
}

// Raycast walks the voxel grid from origin along dir for at most maxDist
// world units and returns the first solid block. The walk stops with a miss
// when it leaves the vertical extent of the world or enters a chunk that is
// not active.
func (w *World) Raycast(origin, dir mgl64.Vec3, maxDist float64) RaycastResult {
	if maxDist <= 0 || dir.Len() == 0 {
		return RaycastResult{}
	}
	d := dir.Normalize()

	bx, by, bz := blockCoord(origin)
	it, ok := w.BlockAt(bx, by, bz)
	if !ok {
		return RaycastResult{}
	}
	if w.mats.Solid(it.Block().Def) {
		return RaycastResult{
			Hit:    true,
			Pos:    origin,
			Normal: facingAgainst(d),
			Block:  it,
		}
	}

	// Parametric march over t in [0,1], where t=1 is maxDist along d.
	ray := d.Mul(maxDist)
	cell := [3]int{bx, by, bz}
	var (
		step   [3]int
		tMax   [3]float64
		tDelta [3]float64
	)
	for a := 0; a < 3; a++ {
		switch {
		case ray[a] > 0:
			step[a] = 1
			tMax[a] = (float64(cell[a]+1) - origin[a]) / ray[a]
			tDelta[a] = 1 / ray[a]
		case ray[a] < 0:
			step[a] = -1
			tMax[a] = (origin[a] - float64(cell[a])) / -ray[a]
			tDelta[a] = -1 / ray[a]
		default:
			tMax[a] = math.Inf(1)
			tDelta[a] = math.Inf(1)
		}
	}

	for {
		a := 0
		if tMax[1] < tMax[a] {
			a = 1
		}
		if tMax[2] < tMax[a] {
			a = 2
		}
		t := tMax[a]
		if t > 1 {
			return RaycastResult{}
		}
		face := voxel.FaceFor(a, step[a])
		next, ok := it.Neighbor(w.reg, face)
		if !ok {
			return RaycastResult{}
		}
		it = next
		tMax[a] += tDelta[a]
		if w.mats.Solid(it.Block().Def) {
			return RaycastResult{
				Hit:      true,
				Pos:      origin.Add(ray.Mul(t)),
				Normal:   face.Opposite(),
				Distance: t * maxDist,
				Block:    it,
			}
		}
	}
}

// facingAgainst returns the axis-aligned face pointing back along the
// dominant component of d. Ties prefer x, then y, then z.
func facingAgainst(d mgl64.Vec3) voxel.Face {
	a := 0
	for i := 1; i < 3; i++ {
		if math.Abs(d[i]) > math.Abs(d[a]) {
			a = i
		}
	}
	if d[a] > 0 {
		return voxel.FaceFor(a, -1)
	}
	return voxel.FaceFor(a, 1)
}

// refreshImpact recomputes the observer's aim target.
func (w *World) refreshImpact() {
	w.impact = w.Raycast(w.obsPos, w.obsFwd, w.cfg.ReachDistance)
}
