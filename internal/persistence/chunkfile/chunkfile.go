// Package chunkfile stores edited chunks as zstd-compressed block arrays,
// one file per chunk coordinate under a per-seed directory.
//
// Uncompressed layout (little endian):
//
//	magic   [4]byte "VXC1"
//	version u8 (1)
//	flags   u8 (bit0: light must be recomputed on load)
//	cx, cz  i32
//	dims    u16 x3 (X, Y, Z)
//	blocks  X*Y*Z entries in raster order: u16 def, u8 indoor<<4|outdoor, u8 flags (sky)
package chunkfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"voxelstream.ai/internal/sim/world/voxel"
)

const Version = 1

const flagRelight = 1 << 0

var (
	magic = [4]byte{'V', 'X', 'C', '1'}

	ErrBadMagic = errors.New("chunkfile: bad magic")
	ErrShape    = errors.New("chunkfile: shape mismatch")
)

type header struct {
	Magic   [4]byte
	Version uint8
	Flags   uint8
	CX, CZ  int32
	X, Y, Z uint16
}

// Encode writes c to w as a single zstd frame.
func Encode(w io.Writer, c *voxel.Chunk) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	h := header{
		Magic:   magic,
		Version: Version,
		CX:      int32(c.Key.CX),
		CZ:      int32(c.Key.CZ),
		X:       uint16(c.Dims.X),
		Y:       uint16(c.Dims.Y),
		Z:       uint16(c.Dims.Z),
	}
	if c.NeedsRelight() {
		h.Flags |= flagRelight
	}
	if err := binary.Write(bw, binary.LittleEndian, &h); err != nil {
		enc.Close()
		return err
	}
	var rec [4]byte
	for _, b := range c.Blocks {
		binary.LittleEndian.PutUint16(rec[:2], b.Def)
		rec[2] = b.Indoor<<4 | b.Outdoor&0x0F
		rec[3] = b.Flags & voxel.FlagSky
		if _, err := bw.Write(rec[:]); err != nil {
			enc.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// MaxBlocks bounds the volume Decode will allocate for a header that does
// not name an expected shape.
const MaxBlocks = 1 << 22

// Decode reads a chunk written by Encode. When want is non-zero the header
// must carry exactly those dimensions; the check runs before any block
// storage is allocated. The returned chunk is in the generating state with
// a stale mesh, ready for activation.
func Decode(r io.Reader, want voxel.Dims) (*voxel.Chunk, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	br := bufio.NewReaderSize(dec, 64*1024)

	var h header
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("chunkfile: header: %w", err)
	}
	if h.Magic != magic {
		return nil, ErrBadMagic
	}
	if h.Version != Version {
		return nil, fmt.Errorf("chunkfile: unsupported version %d", h.Version)
	}
	dims := voxel.Dims{X: int(h.X), Y: int(h.Y), Z: int(h.Z)}
	if err := dims.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShape, err)
	}
	if want != (voxel.Dims{}) {
		if dims != want {
			return nil, fmt.Errorf("%w: file has %dx%dx%d", ErrShape, dims.X, dims.Y, dims.Z)
		}
	} else if dims.X*dims.Y*dims.Z > MaxBlocks {
		return nil, fmt.Errorf("%w: %dx%dx%d exceeds %d blocks", ErrShape, dims.X, dims.Y, dims.Z, MaxBlocks)
	}

	c := voxel.NewChunk(voxel.ChunkKey{CX: int(h.CX), CZ: int(h.CZ)}, dims)
	c.SetRelight(h.Flags&flagRelight != 0)
	var rec [4]byte
	for i := range c.Blocks {
		if _, err := io.ReadFull(br, rec[:]); err != nil {
			return nil, fmt.Errorf("chunkfile: block %d: %w", i, err)
		}
		b := &c.Blocks[i]
		b.Def = binary.LittleEndian.Uint16(rec[:2])
		b.Indoor = rec[2] >> 4
		b.Outdoor = rec[2] & 0x0F
		b.Flags = rec[3] & voxel.FlagSky
	}
	return c, nil
}
