package catalogs

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

//go:embed blocks.json
var defaultBlocks []byte

type Catalogs struct {
	Blocks BlockCatalog
}

type BlockCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]BlockDef
	PaletteDigest string
	DefsDigest    string

	// byID mirrors Defs in palette order for hot-path lookups.
	byID []BlockDef
}

type BlockDef struct {
	ID        string `json:"id"`
	Solid     bool   `json:"solid"`
	Opaque    bool   `json:"opaque"`
	Emission  uint8  `json:"emission,omitempty"`
	Breakable bool   `json:"breakable"`
}

// Load reads <configDir>/blocks.json. A missing file falls back to the
// built-in catalog.
func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	raw, err := os.ReadFile(filepath.Join(configDir, "blocks.json"))
	if os.IsNotExist(err) {
		raw, err = defaultBlocks, nil
	}
	if err != nil {
		return nil, err
	}
	if err := parseBlocks(raw, &c.Blocks); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the built-in catalog.
func Default() *Catalogs {
	var c Catalogs
	if err := parseBlocks(defaultBlocks, &c.Blocks); err != nil {
		panic(err)
	}
	return &c
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func parseBlocks(raw []byte, out *BlockCatalog) error {
	out.DefsDigest = sha256Hex(raw)

	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	out.Defs = map[string]BlockDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("blocks.json: empty id")
		}
		if d.Emission > 15 {
			return fmt.Errorf("blocks.json: %s: emission %d out of range", d.ID, d.Emission)
		}
		out.Defs[d.ID] = d
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Ensure AIR exists and is palette id 0.
	air, ok := out.Defs["AIR"]
	if !ok {
		return fmt.Errorf("blocks.json: missing AIR")
	}
	if air.Solid || air.Opaque {
		return fmt.Errorf("blocks.json: AIR must be non-solid and non-opaque")
	}
	ids = append([]string{"AIR"}, filterOut(ids, "AIR")...)
	if len(ids) > 0xFFFF {
		return fmt.Errorf("blocks.json: too many blocks (%d)", len(ids))
	}

	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	out.byID = make([]BlockDef, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
		out.byID[i] = out.Defs[id]
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return nil
}

func filterOut(ids []string, drop string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

// Def returns the definition for a palette id; unknown ids read as AIR.
func (b *BlockCatalog) Def(id uint16) BlockDef {
	if int(id) >= len(b.byID) {
		return b.byID[0]
	}
	return b.byID[id]
}

func (b *BlockCatalog) Opaque(id uint16) bool    { return b.Def(id).Opaque }
func (b *BlockCatalog) Solid(id uint16) bool     { return b.Def(id).Solid }
func (b *BlockCatalog) Emission(id uint16) uint8 { return b.Def(id).Emission }
func (b *BlockCatalog) Breakable(id uint16) bool { return b.Def(id).Breakable }

// MustID panics on an unknown block name. Intended for wiring and tests.
func (b *BlockCatalog) MustID(name string) uint16 {
	id, ok := b.Index[name]
	if !ok {
		panic(fmt.Sprintf("catalogs: unknown block %q", name))
	}
	return id
}
