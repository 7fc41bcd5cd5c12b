package viewerproto

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"voxelstream.ai/internal/sim/world/mesh"
	"voxelstream.ai/internal/sim/world/voxel"
)

// Version is the viewer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypePose      = "POSE"
	TypeDig       = "DIG"
	TypeBuild     = "BUILD"

	TypeWelcome     = "WELCOME"
	TypeChunkMesh   = "CHUNK_MESH"
	TypeChunkRemove = "CHUNK_REMOVE"
	TypeEditResult  = "EDIT_RESULT"
	TypeError       = "ERROR"
)

// Base is decoded first to route a message by type.
type Base struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// Client -> Server. First message on the viewer WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// MeshesPerSecond caps the mesh send rate for this session.
	MeshesPerSecond int `json:"meshes_per_second,omitempty"`
}

// Client -> Server. Either Forward or Yaw/Pitch (degrees) orients the camera.
type PoseMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Pos             [3]float64  `json:"pos"`
	Forward         *[3]float64 `json:"forward,omitempty"`
	Yaw             float64     `json:"yaw,omitempty"`
	Pitch           float64     `json:"pitch,omitempty"`
}

// Client -> Server. Removes the block under the crosshair.
type DigMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// Client -> Server. Places Block (a catalog id such as "STONE") against the
// face under the crosshair.
type BuildMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Block           string `json:"block"`
}

// Server -> Client. Sent once after a valid SUBSCRIBE.
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	BlockPalette    []string    `json:"block_palette"`
}

type WorldParams struct {
	TickRateHz int     `json:"tick_rate_hz"`
	ChunkSize  [3]int  `json:"chunk_size"`
	Seed       int64   `json:"seed"`
	MaxChunks  int     `json:"max_chunks"`
	Reach      float64 `json:"reach"`
}

// Server -> Client. The full visible surface of one chunk, replacing any
// earlier mesh for the same coordinates.
//
// Encoding "QUAD10_LE": base64 of consecutive 10-byte records
// u16 x, u16 y, u16 z, u8 face, u16 block, u8 light (indoor<<4 | outdoor),
// all little-endian, with chunk-local coordinates.
type ChunkMeshMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CX              int    `json:"cx"`
	CZ              int    `json:"cz"`
	Quads           int    `json:"quads"`
	Encoding        string `json:"encoding"`
	Data            string `json:"data"`
}

// Server -> Client. Evict a chunk mesh from the client cache.
type ChunkRemoveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CX              int    `json:"cx"`
	CZ              int    `json:"cz"`
}

// Server -> Client. Reports whether a DIG or BUILD was applied.
type EditResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Kind            string `json:"kind"`
	OK              bool   `json:"ok"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

const (
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrUnknownBlock = "E_UNKNOWN_BLOCK"
	ErrBusy         = "E_BUSY"
)

const (
	QuadEncoding = "QUAD10_LE"
	quadSize     = 10
)

var ErrBadQuads = errors.New("viewerproto: malformed quad data")

func NewChunkMesh(m *mesh.Mesh) ChunkMeshMsg {
	return ChunkMeshMsg{
		Type:            TypeChunkMesh,
		ProtocolVersion: Version,
		CX:              m.Key.CX,
		CZ:              m.Key.CZ,
		Quads:           len(m.Quads),
		Encoding:        QuadEncoding,
		Data:            EncodeQuads(m.Quads),
	}
}

func NewChunkRemove(k voxel.ChunkKey) ChunkRemoveMsg {
	return ChunkRemoveMsg{Type: TypeChunkRemove, ProtocolVersion: Version, CX: k.CX, CZ: k.CZ}
}

func EncodeQuads(qs []mesh.Quad) string {
	buf := make([]byte, len(qs)*quadSize)
	for i, q := range qs {
		b := buf[i*quadSize:]
		binary.LittleEndian.PutUint16(b[0:], uint16(q.X))
		binary.LittleEndian.PutUint16(b[2:], uint16(q.Y))
		binary.LittleEndian.PutUint16(b[4:], uint16(q.Z))
		b[6] = byte(q.Face)
		binary.LittleEndian.PutUint16(b[7:], q.Def)
		b[9] = q.Indoor<<4 | q.Outdoor&0x0f
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func DecodeQuads(s string) ([]mesh.Quad, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadQuads, err)
	}
	if len(buf)%quadSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadQuads, len(buf))
	}
	out := make([]mesh.Quad, len(buf)/quadSize)
	for i := range out {
		b := buf[i*quadSize:]
		out[i] = mesh.Quad{
			X:       int(binary.LittleEndian.Uint16(b[0:])),
			Y:       int(binary.LittleEndian.Uint16(b[2:])),
			Z:       int(binary.LittleEndian.Uint16(b[4:])),
			Face:    voxel.Face(b[6]),
			Def:     binary.LittleEndian.Uint16(b[7:]),
			Indoor:  b[9] >> 4,
			Outdoor: b[9] & 0x0f,
		}
		if out[i].Face > voxel.North {
			return nil, fmt.Errorf("%w: face %d", ErrBadQuads, b[6])
		}
	}
	return out, nil
}
