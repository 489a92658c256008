package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the engine's tuning surface. Zero values select the defaults,
// so callers only set what they care about.
type Config struct {
	// MemoryChunkSize is the message count that forces a chunk cut.
	MemoryChunkSize int `yaml:"memory_chunk_size"`

	// MaxContextEntities bounds the tracked entity map per conversation.
	MaxContextEntities int `yaml:"max_context_entities"`

	// ContextDecayDays is the memory retrieval decay window. Zero selects
	// the default; a negative value collapses the window so retrieval
	// returns nothing.
	ContextDecayDays float64 `yaml:"context_decay_days"`

	// EntityWindowMessages is how many trailing messages the tracker scans.
	EntityWindowMessages int `yaml:"entity_window_messages"`

	// TopK caps memory matches per bundle.
	TopK int `yaml:"top_k"`

	// CacheTTL is how long assembled bundles stay valid.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// AutoHybridConfidenceThreshold is the classifier confidence required
	// before the auto strategy selects hybrid.
	AutoHybridConfidenceThreshold float64 `yaml:"auto_hybrid_confidence_threshold"`

	// GatherTimeout bounds the concurrent excerpt/memory fan-out. A source
	// missing the deadline contributes an empty result.
	GatherTimeout time.Duration `yaml:"gather_timeout"`

	// Workers sizes the background pool consuming recorded turns.
	Workers int `yaml:"workers"`

	// TopicShiftThreshold is the cosine distance that forces an early cut.
	TopicShiftThreshold float64 `yaml:"topic_shift_threshold"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MemoryChunkSize:               5,
		MaxContextEntities:            50,
		ContextDecayDays:              30,
		EntityWindowMessages:          20,
		TopK:                          5,
		CacheTTL:                      30 * time.Second,
		AutoHybridConfidenceThreshold: 0.6,
		GatherTimeout:                 2 * time.Second,
		Workers:                       4,
		TopicShiftThreshold:           0.45,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MemoryChunkSize <= 0 {
		c.MemoryChunkSize = def.MemoryChunkSize
	}
	if c.MaxContextEntities <= 0 {
		c.MaxContextEntities = def.MaxContextEntities
	}
	if c.ContextDecayDays == 0 {
		c.ContextDecayDays = def.ContextDecayDays
	}
	if c.EntityWindowMessages <= 0 {
		c.EntityWindowMessages = def.EntityWindowMessages
	}
	if c.TopK <= 0 {
		c.TopK = def.TopK
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	if c.AutoHybridConfidenceThreshold <= 0 {
		c.AutoHybridConfidenceThreshold = def.AutoHybridConfidenceThreshold
	}
	if c.GatherTimeout <= 0 {
		c.GatherTimeout = def.GatherTimeout
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.TopicShiftThreshold <= 0 {
		c.TopicShiftThreshold = def.TopicShiftThreshold
	}
	return c
}

// LoadConfig reads a YAML config file over the defaults. Keys absent from
// the file keep their default values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
