package tuning

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed tuning.schema.json
var schemaJSON []byte

const schemaURL = "tuning.schema.json"

type Tuning struct {
	Seed       int64 `yaml:"seed"`
	TickRateHz int   `yaml:"tick_rate_hz"`
	ChunkSize  []int `yaml:"chunk_size"`

	MaxChunks        int     `yaml:"max_chunks"`
	MaxChunkRadius   int     `yaml:"max_chunk_radius"`
	ActivateRadius   float64 `yaml:"activate_radius"`
	DeactivateRadius float64 `yaml:"deactivate_radius"`
	MaxQueuedJobs    int     `yaml:"max_queued_jobs"`
	Workers          int     `yaml:"workers"`

	LightBudgetPerTick int     `yaml:"light_budget_per_tick"`
	ReachDistance      float64 `yaml:"reach_distance"`

	Worldgen Worldgen `yaml:"worldgen"`
}

type Worldgen struct {
	BaseHeight   int     `yaml:"base_height"`
	Amplitude    float64 `yaml:"amplitude"`
	Scale        float64 `yaml:"scale"`
	Octaves      int     `yaml:"octaves"`
	Persistence  float64 `yaml:"persistence"`
	Lacunarity   float64 `yaml:"lacunarity"`
	TreePermille int     `yaml:"tree_permille"`
	LampPermille int     `yaml:"lamp_permille"`
	SeaLevel     int     `yaml:"sea_level"`
}

func Defaults() Tuning {
	return Tuning{
		Seed:             1337,
		TickRateHz:       20,
		ChunkSize:        []int{16, 64, 16},
		MaxChunks:        81,
		MaxChunkRadius:   6,
		ActivateRadius:   80,
		DeactivateRadius: 112,
		MaxQueuedJobs:    4,
		ReachDistance:    6,
		Worldgen: Worldgen{
			BaseHeight:   24,
			Amplitude:    12,
			Scale:        96,
			Octaves:      4,
			Persistence:  0.5,
			Lacunarity:   2,
			TreePermille: 8,
			LampPermille: 2,
			SeaLevel:     20,
		},
	}
}

// Load reads a tuning file on top of Defaults. A missing file yields the
// defaults unchanged.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return t, err
	}
	if err := validateSchema(raw); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// validateSchema checks the raw YAML document against the embedded JSON
// schema. The document is normalized through JSON so numbers and maps have
// the shapes the validator expects.
func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(js, &v); err != nil {
		return err
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return err
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		return err
	}
	return s.Validate(v)
}

// Validate checks invariants the schema cannot express.
func (t Tuning) Validate() error {
	if len(t.ChunkSize) != 3 {
		return fmt.Errorf("chunk_size must have 3 entries")
	}
	for _, v := range t.ChunkSize {
		if v <= 0 {
			return fmt.Errorf("chunk_size must be positive: %v", t.ChunkSize)
		}
	}
	if t.ChunkSize[0] != t.ChunkSize[2] {
		return fmt.Errorf("chunk_size x and z must match: %v", t.ChunkSize)
	}
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be positive")
	}
	if t.MaxChunks <= 0 {
		return fmt.Errorf("max_chunks must be positive")
	}
	if t.MaxQueuedJobs <= 0 {
		return fmt.Errorf("max_queued_jobs must be positive")
	}
	if t.ActivateRadius <= 0 {
		return fmt.Errorf("activate_radius must be positive")
	}
	if t.DeactivateRadius < t.ActivateRadius {
		return fmt.Errorf("deactivate_radius (%v) must be >= activate_radius (%v)", t.DeactivateRadius, t.ActivateRadius)
	}
	if t.Worldgen.BaseHeight >= t.ChunkSize[1] {
		return fmt.Errorf("worldgen.base_height (%d) must be below chunk height (%d)", t.Worldgen.BaseHeight, t.ChunkSize[1])
	}
	return nil
}
