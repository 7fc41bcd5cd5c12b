package chunkfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"voxelstream.ai/internal/sim/world/voxel"
)

// Store maps chunk coordinates to files under <root>/worlds/<seed>/chunks.
// Save and Load may be called from different goroutines for different keys.
type Store struct {
	dir  string
	dims voxel.Dims
}

func NewStore(root string, seed int64, dims voxel.Dims) *Store {
	return &Store{
		dir:  filepath.Join(root, "worlds", strconv.FormatInt(seed, 10), "chunks"),
		dims: dims,
	}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) Path(k voxel.ChunkKey) string {
	return filepath.Join(s.dir, fmt.Sprintf("c.%d.%d.vxc.zst", k.CX, k.CZ))
}

// Save writes c atomically (temp file + rename).
func (s *Store) Save(c *voxel.Chunk) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	path := s.Path(c.Key)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, c); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", c.Key, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load returns (nil, false, nil) when no file exists for k.
func (s *Store) Load(k voxel.ChunkKey) (*voxel.Chunk, bool, error) {
	f, err := os.Open(s.Path(k))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	c, err := Decode(f, s.dims)
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", k, err)
	}
	if c.Key != k {
		return nil, false, fmt.Errorf("load %s: %w: file has %s %dx%dx%d", k, ErrShape, c.Key, c.Dims.X, c.Dims.Y, c.Dims.Z)
	}
	return c, true, nil
}
