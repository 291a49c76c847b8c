// Package config holds the per-cache configuration knobs of §6 and a
// top-level system configuration, loaded and saved as JSON in the same
// shape the teacher's timing latency configuration uses.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sarchlab/cohecache/timing/coherence"
)

// Level is the cache_level_type enum.
type Level int

const (
	FIRSTLEVEL_WT Level = iota
	FIRSTLEVEL_WB
	SECONDLEVEL
)

// Replacement selects the victim-selection policy.
type Replacement int

const (
	LRU Replacement = iota
	FIFO
	RANDOM
)

// CoheType is the cohe_type enum.
type CoheType int

const (
	PR_WT CoheType = iota
	PR_WB
	WB_NREF
	NC
)

// Infinite marks an unbounded cache size or full associativity.
const Infinite = -1

// FullAssoc marks a fully-associative set size.
const FullAssoc = -1

// PipeConfig describes one pipeline bank: its fixed per-element delay,
// number of parallel pipes, and per-pipe port width.
type PipeConfig struct {
	Delay      uint64 `json:"delay"`
	NumPipes   int    `json:"num_pipes"`
	PipeWidths []int  `json:"pipe_widths"`
}

// Config holds one cache's §6 configuration.
type Config struct {
	CacheLevelType Level `json:"cache_level_type"`

	SizeKB  int `json:"size_kb"`
	LineSz  int `json:"line_size"`
	SetSize int `json:"set_size"`

	Replacement Replacement `json:"replacement"`
	CoheType    CoheType    `json:"cohe_type"`
	MaxMSHRs    int         `json:"max_mshrs"`

	TagPipe  PipeConfig `json:"tag_pipe"`
	DataPipe PipeConfig `json:"data_pipe"`

	// WrbBufExtra is L2-only: wrb_buf_size = MaxMSHRs + WrbBufExtra.
	WrbBufExtra int `json:"wrb_buf_extra"`

	ReplacementHintsLevel coherence.ReplacementHintsLevel `json:"replacement_hints_level"`
	CCProtocol            coherence.Protocol              `json:"cc_protocol"`
	DiscriminatePrefetch  bool                            `json:"discriminate_prefetch"`
}

// WrbBufSize returns MaxMSHRs + WrbBufExtra, the L2 write-back buffer's
// slot count.
func (c *Config) WrbBufSize() int {
	return c.MaxMSHRs + c.WrbBufExtra
}

// DefaultL1WBConfig returns a default L1 write-back/write-allocate
// cache configuration.
func DefaultL1WBConfig() *Config {
	return &Config{
		CacheLevelType: FIRSTLEVEL_WB,
		SizeKB:         64,
		LineSz:         64,
		SetSize:        4,
		Replacement:    LRU,
		CoheType:       PR_WB,
		MaxMSHRs:       4,
		TagPipe:        PipeConfig{Delay: 1, NumPipes: 1, PipeWidths: []int{1}},
		DataPipe:       PipeConfig{Delay: 1, NumPipes: 1, PipeWidths: []int{1}},
		CCProtocol:     coherence.MESI,
	}
}

// DefaultL1WTConfig returns a default L1 write-through/no-write-allocate
// cache configuration.
func DefaultL1WTConfig() *Config {
	c := DefaultL1WBConfig()
	c.CacheLevelType = FIRSTLEVEL_WT
	c.CoheType = PR_WT
	return c
}

// DefaultL2Config returns a default L2 write-back cache configuration.
func DefaultL2Config() *Config {
	return &Config{
		CacheLevelType:        SECONDLEVEL,
		SizeKB:                512,
		LineSz:                64,
		SetSize:               8,
		Replacement:           LRU,
		CoheType:              WB_NREF,
		MaxMSHRs:              8,
		TagPipe:               PipeConfig{Delay: 2, NumPipes: 1, PipeWidths: []int{2}},
		DataPipe:              PipeConfig{Delay: 4, NumPipes: 1, PipeWidths: []int{2}},
		WrbBufExtra:           4,
		ReplacementHintsLevel: coherence.HintsAll,
		CCProtocol:            coherence.MESI,
	}
}

// LoadConfig loads a Config from a JSON file, starting from
// DefaultL1WBConfig so unset fields keep a sane default.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache config file: %w", err)
	}

	cfg := DefaultL1WBConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse cache config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes c to path as indented JSON.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize cache config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.LineSz <= 0 || (c.LineSz&(c.LineSz-1)) != 0 {
		return fmt.Errorf("line_size must be a power of two, got %d", c.LineSz)
	}
	if c.SetSize != FullAssoc && (c.SetSize <= 0 || (c.SetSize&(c.SetSize-1)) != 0) {
		return fmt.Errorf("set_size must be a power of two or FULL_ASS, got %d", c.SetSize)
	}
	if c.MaxMSHRs <= 0 {
		return fmt.Errorf("max_mshrs must be > 0")
	}
	if c.CacheLevelType == SECONDLEVEL && c.WrbBufExtra < 0 {
		return fmt.Errorf("wrb_buf_extra must be >= 0")
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	clone := *c
	clone.TagPipe.PipeWidths = append([]int(nil), c.TagPipe.PipeWidths...)
	clone.DataPipe.PipeWidths = append([]int(nil), c.DataPipe.PipeWidths...)
	return &clone
}

// System is the top-level, immutable configuration shared across every
// node's caches, replacing the global mutable state the original
// simulator kept (§9 Design Notes).
type System struct {
	NumNodes int     `json:"num_nodes"`
	L1       *Config `json:"l1"`
	L2       *Config `json:"l2"`
}

// DefaultSystem returns a single-node system with default L1-WB/L2-WB
// caches, matching the end-to-end scenarios in §8.
func DefaultSystem() *System {
	return &System{
		NumNodes: 1,
		L1:       DefaultL1WBConfig(),
		L2:       DefaultL2Config(),
	}
}

// LoadSystem loads a System from a JSON file.
func LoadSystem(path string) (*System, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read system config file: %w", err)
	}
	sys := DefaultSystem()
	if err := json.Unmarshal(data, sys); err != nil {
		return nil, fmt.Errorf("failed to parse system config: %w", err)
	}
	return sys, nil
}

// SaveConfig writes s to path as indented JSON.
func (s *System) SaveConfig(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize system config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write system config file: %w", err)
	}
	return nil
}

// Validate checks every sub-configuration.
func (s *System) Validate() error {
	if s.NumNodes <= 0 {
		return fmt.Errorf("num_nodes must be > 0")
	}
	if err := s.L1.Validate(); err != nil {
		return fmt.Errorf("l1: %w", err)
	}
	if err := s.L2.Validate(); err != nil {
		return fmt.Errorf("l2: %w", err)
	}
	return nil
}
