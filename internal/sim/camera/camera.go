// Package camera holds the observer pose that drives chunk streaming and
// aiming. Transport goroutines write it and the world loop reads it.
package camera

import (
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

type Camera struct {
	mu  sync.Mutex
	pos mgl64.Vec3
	fwd mgl64.Vec3
}

// New returns a camera at pos looking along fwd. A zero fwd looks north (-Z).
func New(pos, fwd mgl64.Vec3) *Camera {
	c := &Camera{pos: pos, fwd: mgl64.Vec3{0, 0, -1}}
	if fwd.Len() > 0 {
		c.fwd = fwd.Normalize()
	}
	return c
}

func (c *Camera) Pose() (pos, forward mgl64.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos, c.fwd
}

// SetPose replaces the pose. A zero or non-finite forward keeps the current
// direction.
func (c *Camera) SetPose(pos, fwd mgl64.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if finite(pos) {
		c.pos = pos
	}
	if finite(fwd) && fwd.Len() > 0 {
		c.fwd = fwd.Normalize()
	}
}

// SetAngles points the camera by yaw and pitch in degrees. Yaw 0 looks
// north (-Z) and grows toward east (+X); positive pitch looks up.
func (c *Camera) SetAngles(yawDeg, pitchDeg float64) {
	pitchDeg = mgl64.Clamp(pitchDeg, -89, 89)
	yaw, pitch := mgl64.DegToRad(yawDeg), mgl64.DegToRad(pitchDeg)
	fwd := mgl64.Vec3{
		math.Sin(yaw) * math.Cos(pitch),
		math.Sin(pitch),
		-math.Cos(yaw) * math.Cos(pitch),
	}
	c.mu.Lock()
	c.fwd = fwd.Normalize()
	c.mu.Unlock()
}

// Advance moves the camera dist units along its heading projected onto the
// horizontal plane, keeping altitude. Looking straight up or down does not
// move it.
func (c *Camera) Advance(dist float64) mgl64.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := mgl64.Vec3{c.fwd[0], 0, c.fwd[2]}
	if h.Len() < 1e-9 {
		return c.pos
	}
	c.pos = c.pos.Add(h.Normalize().Mul(dist))
	return c.pos
}

func finite(v mgl64.Vec3) bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
