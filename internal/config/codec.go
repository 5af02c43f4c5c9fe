// Package config loads codec tool settings from JSON or YAML files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/dvs.codec/internal/dvs"
	"github.com/banshee-data/dvs.codec/internal/dvs/stream"
	"github.com/banshee-data/dvs.codec/internal/loss"
	"github.com/banshee-data/dvs.codec/internal/streamio"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Defaults used by the Get* accessors when a field is unset.
const (
	DefaultOnError       = "abort"
	DefaultChunkMs       = 50.0
	DefaultBandwidthMbps = 25.0
	DefaultLossStrategy  = "tail"
	DefaultDatabasePath  = "dvs_catalog.db"
)

// CodecConfig holds settings shared by the CLI subcommands. Every field is
// optional; command-line flags override whatever the file sets.
type CodecConfig struct {
	InputFormat  *string `json:"input_format,omitempty" yaml:"input_format,omitempty"`
	OutputFormat *string `json:"output_format,omitempty" yaml:"output_format,omitempty"`
	OnError      *string `json:"on_error,omitempty" yaml:"on_error,omitempty"` // abort | skip
	Compression  *string `json:"compression,omitempty" yaml:"compression,omitempty"`

	// Loss simulation
	ChunkMs       *float64 `json:"chunk_ms,omitempty" yaml:"chunk_ms,omitempty"`
	BandwidthMbps *float64 `json:"bandwidth_mbps,omitempty" yaml:"bandwidth_mbps,omitempty"`
	BitsPerEvent  *float64 `json:"bits_per_event,omitempty" yaml:"bits_per_event,omitempty"`
	LossStrategy  *string  `json:"loss_strategy,omitempty" yaml:"loss_strategy,omitempty"`

	DatabasePath *string `json:"database_path,omitempty" yaml:"database_path,omitempty"`
}

// Load reads a config file. The extension selects the syntax: .json, .yaml
// or .yml.
func Load(path string) (*CodecConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, ext)
}

// Parse decodes data in the syntax named by ext and validates the result.
func Parse(data []byte, ext string) (*CodecConfig, error) {
	cfg := &CodecConfig{}
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config syntax %q", ext)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that every set field parses.
func (c *CodecConfig) Validate() error {
	var errs []error
	if c.InputFormat != nil {
		if _, err := dvs.ParseFormat(*c.InputFormat); err != nil {
			errs = append(errs, fmt.Errorf("input_format: %w", err))
		}
	}
	if c.OutputFormat != nil {
		if _, err := dvs.ParseFormat(*c.OutputFormat); err != nil {
			errs = append(errs, fmt.Errorf("output_format: %w", err))
		}
	}
	if c.OnError != nil {
		if _, err := stream.ParseErrorPolicy(*c.OnError); err != nil {
			errs = append(errs, fmt.Errorf("on_error: %w", err))
		}
	}
	if c.Compression != nil {
		if _, err := streamio.ParseCompression(*c.Compression); err != nil {
			errs = append(errs, fmt.Errorf("compression: %w", err))
		}
	}
	if c.LossStrategy != nil {
		if _, err := loss.ParseStrategy(*c.LossStrategy); err != nil {
			errs = append(errs, fmt.Errorf("loss_strategy: %w", err))
		}
	}
	if c.ChunkMs != nil && *c.ChunkMs <= 0 {
		errs = append(errs, fmt.Errorf("chunk_ms must be positive, got %v", *c.ChunkMs))
	}
	if c.BandwidthMbps != nil && *c.BandwidthMbps < 0 {
		errs = append(errs, fmt.Errorf("bandwidth_mbps must be non-negative, got %v", *c.BandwidthMbps))
	}
	if c.BitsPerEvent != nil && *c.BitsPerEvent <= 0 {
		errs = append(errs, fmt.Errorf("bits_per_event must be positive, got %v", *c.BitsPerEvent))
	}
	return errors.Join(errs...)
}

func (c *CodecConfig) GetInputFormat() dvs.Format {
	if c.InputFormat == nil {
		return dvs.FormatUnknown
	}
	f, _ := dvs.ParseFormat(*c.InputFormat)
	return f
}

func (c *CodecConfig) GetOutputFormat() dvs.Format {
	if c.OutputFormat == nil {
		return dvs.FormatUnknown
	}
	f, _ := dvs.ParseFormat(*c.OutputFormat)
	return f
}

func (c *CodecConfig) GetOnError() stream.ErrorPolicy {
	s := DefaultOnError
	if c.OnError != nil {
		s = *c.OnError
	}
	p, _ := stream.ParseErrorPolicy(s)
	return p
}

func (c *CodecConfig) GetCompression() streamio.Compression {
	if c.Compression == nil {
		return streamio.CompressionNone
	}
	comp, _ := streamio.ParseCompression(*c.Compression)
	return comp
}

// GetLossParams assembles loss simulation parameters with defaults filled in.
func (c *CodecConfig) GetLossParams() loss.Params {
	p := loss.Params{
		ChunkMs:       DefaultChunkMs,
		BandwidthMbps: DefaultBandwidthMbps,
		BitsPerEvent:  loss.DefaultBitsPerEvent,
		Strategy:      loss.Tail,
	}
	if c.ChunkMs != nil {
		p.ChunkMs = *c.ChunkMs
	}
	if c.BandwidthMbps != nil {
		p.BandwidthMbps = *c.BandwidthMbps
	}
	if c.BitsPerEvent != nil {
		p.BitsPerEvent = *c.BitsPerEvent
	}
	if c.LossStrategy != nil {
		if s, err := loss.ParseStrategy(*c.LossStrategy); err == nil {
			p.Strategy = s
		}
	}
	return p
}

func (c *CodecConfig) GetDatabasePath() string {
	if c.DatabasePath == nil || *c.DatabasePath == "" {
		return DefaultDatabasePath
	}
	return *c.DatabasePath
}
