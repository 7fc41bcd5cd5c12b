package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"voxelstream.ai/internal/persistence/chunkfile"
	"voxelstream.ai/internal/persistence/editlog"
	"voxelstream.ai/internal/persistence/indexdb"
	"voxelstream.ai/internal/sim/catalogs"
	"voxelstream.ai/internal/sim/world/voxel"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "saves":
			savesCmd(os.Args[2:])
			return
		case "chunk":
			chunkCmd(os.Args[2:])
			return
		case "edits":
			editsCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the seeds that have saved chunks under the data directory.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "worlds"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		files, _ := filepath.Glob(filepath.Join(*dataDir, "worlds", e.Name(), "chunks", "*.vxc.zst"))
		fmt.Printf("%s\t%d chunks\n", e.Name(), len(files))
	}
}

func savesCmd(args []string) {
	fs := flag.NewFlagSet("saves", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	seed := fs.Int64("seed", 1337, "world seed")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	at := fs.String("chunk", "", "only the latest save of chunk cx,cz")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "worlds", strconv.FormatInt(*seed, 10), "index", "chunks.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "index:", err)
		os.Exit(1)
	}
	idx, err := indexdb.OpenSQLite(path, zap.NewNop())
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if strings.TrimSpace(*at) != "" {
		k, err := parseChunkKey(*at)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -chunk:", err)
			os.Exit(2)
		}
		row, ok, err := idx.Latest(ctx, *seed, k.CX, k.CZ)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "no saves for chunk %s\n", k)
			os.Exit(2)
		}
		printJSON(row)
		return
	}

	rows, err := idx.List(ctx, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

func chunkCmd(args []string) {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	configDir := fs.String("configs", "./configs", "config directory (for block names)")
	seed := fs.Int64("seed", 1337, "world seed")
	file := fs.String("file", "", "chunk file path (overrides -data/-seed/-chunk)")
	at := fs.String("chunk", "0,0", "chunk cx,cz")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*file)
	if path == "" {
		k, err := parseChunkKey(*at)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -chunk:", err)
			os.Exit(2)
		}
		// Dims only matter to Store.Load; Path ignores them.
		path = chunkfile.NewStore(*dataDir, *seed, voxel.Dims{}).Path(k)
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "catalogs:", err)
		os.Exit(1)
	}

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer f.Close()
	c, err := chunkfile.Decode(f, voxel.Dims{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode:", err)
		os.Exit(1)
	}
	s := summarizeChunk(c, &cats.Blocks)
	s.Path = path
	printJSON(s)
}

type chunkSummary struct {
	Path       string         `json:"path,omitempty"`
	CX         int            `json:"cx"`
	CZ         int            `json:"cz"`
	Dims       [3]int         `json:"dims"`
	Relight    bool           `json:"relight"`
	Digest     string         `json:"digest"`
	Blocks     map[string]int `json:"blocks"`
	SkyBlocks  int            `json:"sky_blocks"`
	MaxIndoor  uint8          `json:"max_indoor"`
	MaxOutdoor uint8          `json:"max_outdoor"`
	Surface    []int          `json:"surface_range"`
}

func summarizeChunk(c *voxel.Chunk, blocks *catalogs.BlockCatalog) chunkSummary {
	d := c.Digest()
	s := chunkSummary{
		CX:      c.Key.CX,
		CZ:      c.Key.CZ,
		Dims:    [3]int{c.Dims.X, c.Dims.Y, c.Dims.Z},
		Relight: c.NeedsRelight(),
		Digest:  hex.EncodeToString(d[:]),
		Blocks:  map[string]int{},
	}
	for _, b := range c.Blocks {
		s.Blocks[blocks.Def(b.Def).ID]++
		if b.Sky() {
			s.SkyBlocks++
		}
		s.MaxIndoor = max(s.MaxIndoor, b.Indoor)
		s.MaxOutdoor = max(s.MaxOutdoor, b.Outdoor)
	}

	// Highest non-sky block per column gives the terrain surface range.
	lo, hi := c.Dims.Y, -1
	for z := 0; z < c.Dims.Z; z++ {
		for x := 0; x < c.Dims.X; x++ {
			top := -1
			for y := c.Dims.Y - 1; y >= 0; y-- {
				if !c.At(x, y, z).Sky() {
					top = y
					break
				}
			}
			lo, hi = min(lo, top), max(hi, top)
		}
	}
	if hi >= 0 {
		s.Surface = []int{lo, hi}
	}
	return s
}

func editsCmd(args []string) {
	fs := flag.NewFlagSet("edits", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	seed := fs.Int64("seed", 1337, "world seed")
	since := fs.Uint64("since", 0, "skip edits before this tick")
	limit := fs.Int("limit", 0, "print only the last N edits (0 = all)")
	_ = fs.Parse(args)

	worldDir := filepath.Join(*dataDir, "worlds", strconv.FormatInt(*seed, 10))
	entries, err := editlog.ReadAll(editlog.Dir(worldDir), *since)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		if len(entries) == 0 {
			os.Exit(1)
		}
	}
	if *limit > 0 && len(entries) > *limit {
		entries = entries[len(entries)-*limit:]
	}
	for _, e := range entries {
		printJSON(e)
	}
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/state"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func parseChunkKey(s string) (voxel.ChunkKey, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return voxel.ChunkKey{}, fmt.Errorf("expected cx,cz")
	}
	var v [2]int
	for i := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return voxel.ChunkKey{}, err
		}
		v[i] = n
	}
	return voxel.ChunkKey{CX: v[0], CZ: v[1]}, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
