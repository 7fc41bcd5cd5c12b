package voxel

import "fmt"

// Face is one of the six axis-aligned block faces. The four horizontal
// faces double as chunk neighbor directions.
type Face uint8

const (
	East  Face = iota // +X
	West              // -X
	Up                // +Y
	Down              // -Y
	South             // +Z
	North             // -Z
)

// Faces lists all six faces in a fixed order.
var Faces = [6]Face{East, West, Up, Down, South, North}

// Horizontal lists the four chunk neighbor directions.
var Horizontal = [4]Face{East, West, South, North}

var faceNormals = [6][3]int{
	East:  {1, 0, 0},
	West:  {-1, 0, 0},
	Up:    {0, 1, 0},
	Down:  {0, -1, 0},
	South: {0, 0, 1},
	North: {0, 0, -1},
}

func (f Face) Normal() [3]int { return faceNormals[f] }

func (f Face) Opposite() Face { return f ^ 1 }

// Axis returns 0, 1 or 2 for x, y, z.
func (f Face) Axis() int { return int(f) / 2 }

// Sign is +1 for East/Up/South and -1 for the others.
func (f Face) Sign() int {
	if f&1 == 0 {
		return 1
	}
	return -1
}

// FaceFor returns the face on the given axis with the given sign.
func FaceFor(axis, sign int) Face {
	f := Face(axis * 2)
	if sign < 0 {
		f++
	}
	return f
}

func (f Face) String() string {
	switch f {
	case East:
		return "EAST"
	case West:
		return "WEST"
	case Up:
		return "UP"
	case Down:
		return "DOWN"
	case South:
		return "SOUTH"
	case North:
		return "NORTH"
	default:
		return fmt.Sprintf("Face(%d)", uint8(f))
	}
}
