// Package config loads the schema a segment is built and opened with:
// field index definitions, quantization settings, storage tuning, and
// logging level. The schema is immutable for the lifetime of a segment
// directory (see internal/segment) — changing it requires a rebuild.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldKind selects which PayloadFieldIndex implementation backs a field.
type FieldKind string

const (
	FieldKindKeyword  FieldKind = "keyword"
	FieldKindInteger  FieldKind = "integer"
	FieldKindFloat    FieldKind = "float"
	FieldKindBool     FieldKind = "bool"
	FieldKindText     FieldKind = "text"
	FieldKindGeo      FieldKind = "geo"
	FieldKindNull     FieldKind = "null"
)

// QuantizationKind selects the vector storage's quantization scheme.
type QuantizationKind string

const (
	QuantizationNone    QuantizationKind = "none"
	QuantizationScalar  QuantizationKind = "scalar"
	QuantizationBinary  QuantizationKind = "binary"
	QuantizationProduct QuantizationKind = "product"
)

// BinaryEncoding selects how many bits binary quantization packs per
// vector component.
type BinaryEncoding string

const (
	BinaryOneBit        BinaryEncoding = "one_bit"
	BinaryOneAndHalfBits BinaryEncoding = "one_and_half_bits"
	BinaryTwoBits       BinaryEncoding = "two_bits"
)

// FieldSchema describes one payload field index.
type FieldSchema struct {
	Name           string    `yaml:"name" json:"name"`
	Kind           FieldKind `yaml:"kind" json:"kind"`
	IsTenant       bool      `yaml:"is_tenant,omitempty" json:"is_tenant,omitempty"`
	OnDisk         bool      `yaml:"on_disk,omitempty" json:"on_disk,omitempty"`
	GeoPrecision   int       `yaml:"geo_precision,omitempty" json:"geo_precision,omitempty"`
	Stemming       bool      `yaml:"stemming,omitempty" json:"stemming,omitempty"`
	StopWordsLang  string    `yaml:"stop_words_lang,omitempty" json:"stop_words_lang,omitempty"`
}

// QuantizationConfig configures the quantized vector store.
type QuantizationConfig struct {
	Kind                QuantizationKind `yaml:"kind" json:"kind"`
	ScalarQuantile      float64          `yaml:"scalar_quantile,omitempty" json:"scalar_quantile,omitempty"`
	BinaryEncoding      BinaryEncoding   `yaml:"binary_encoding,omitempty" json:"binary_encoding,omitempty"`
	ProductSubVectors   int              `yaml:"product_sub_vectors,omitempty" json:"product_sub_vectors,omitempty"`
	ProductCentroids    int              `yaml:"product_centroids,omitempty" json:"product_centroids,omitempty"`
	AlwaysRam           bool             `yaml:"always_ram,omitempty" json:"always_ram,omitempty"`
}

// StorageConfig tunes the mmap-backed vector and flag stores.
type StorageConfig struct {
	ChunkSizeBytes      int    `yaml:"chunk_size_bytes" json:"chunk_size_bytes"`
	InitialFlagCapacity int    `yaml:"initial_flag_capacity" json:"initial_flag_capacity"`
	Populate            bool   `yaml:"populate" json:"populate"`
	LockTimeout         string `yaml:"lock_timeout" json:"lock_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level         string `yaml:"level" json:"level"`
	FilePath      string `yaml:"file_path" json:"file_path"`
	MaxSizeMB     int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles      int    `yaml:"max_files" json:"max_files"`
	WriteToStderr bool   `yaml:"write_to_stderr" json:"write_to_stderr"`
}

// Config is the full segment schema: vector dimensionality/distance,
// quantization, field indices, storage tuning, and logging.
type Config struct {
	Version int `yaml:"version" json:"version"`

	VectorDim      int    `yaml:"vector_dim" json:"vector_dim"`
	Distance       string `yaml:"distance" json:"distance"` // dot, cosine, l1, l2
	MultiVector    bool   `yaml:"multi_vector,omitempty" json:"multi_vector,omitempty"`

	Quantization QuantizationConfig `yaml:"quantization" json:"quantization"`
	Storage      StorageConfig      `yaml:"storage" json:"storage"`
	Fields       []FieldSchema      `yaml:"fields" json:"fields"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`

	// Workers is loaded from the config file and environment overrides;
	// no code path reads it, so it does not bound any parallelism.
	Workers int `yaml:"workers" json:"workers"`
}

// NewConfig returns a Config with sensible defaults: no quantization,
// 32MB mmap chunks, info-level logging with no log file path set.
func NewConfig() *Config {
	return &Config{
		Version:   1,
		VectorDim: 0,
		Distance:  "cosine",
		Quantization: QuantizationConfig{
			Kind: QuantizationNone,
		},
		Storage: StorageConfig{
			ChunkSizeBytes:      32 * 1024 * 1024,
			InitialFlagCapacity: 1024,
			Populate:            false,
			LockTimeout:         "5s",
		},
		Fields: []FieldSchema{},
		Logging: LoggingConfig{
			Level:         "info",
			MaxSizeMB:     10,
			MaxFiles:      5,
			WriteToStderr: true,
		},
		Workers: 0, // not read outside config loading
	}
}

// Load reads a segment schema from dir/segment.yaml (or .yml), applies
// SEGMENTCORE_* environment overrides, then validates the result.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, "segment.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, "segment.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.VectorDim != 0 {
		c.VectorDim = other.VectorDim
	}
	if other.Distance != "" {
		c.Distance = other.Distance
	}
	if other.MultiVector {
		c.MultiVector = other.MultiVector
	}

	if other.Quantization.Kind != "" {
		c.Quantization.Kind = other.Quantization.Kind
	}
	if other.Quantization.ScalarQuantile != 0 {
		c.Quantization.ScalarQuantile = other.Quantization.ScalarQuantile
	}
	if other.Quantization.BinaryEncoding != "" {
		c.Quantization.BinaryEncoding = other.Quantization.BinaryEncoding
	}
	if other.Quantization.ProductSubVectors != 0 {
		c.Quantization.ProductSubVectors = other.Quantization.ProductSubVectors
	}
	if other.Quantization.ProductCentroids != 0 {
		c.Quantization.ProductCentroids = other.Quantization.ProductCentroids
	}
	if other.Quantization.AlwaysRam {
		c.Quantization.AlwaysRam = other.Quantization.AlwaysRam
	}

	if other.Storage.ChunkSizeBytes != 0 {
		c.Storage.ChunkSizeBytes = other.Storage.ChunkSizeBytes
	}
	if other.Storage.InitialFlagCapacity != 0 {
		c.Storage.InitialFlagCapacity = other.Storage.InitialFlagCapacity
	}
	if other.Storage.Populate {
		c.Storage.Populate = other.Storage.Populate
	}
	if other.Storage.LockTimeout != "" {
		c.Storage.LockTimeout = other.Storage.LockTimeout
	}

	if len(other.Fields) > 0 {
		c.Fields = other.Fields
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}

	if other.Workers != 0 {
		c.Workers = other.Workers
	}
}

// applyEnvOverrides applies SEGMENTCORE_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SEGMENTCORE_DISTANCE"); v != "" {
		c.Distance = v
	}
	if v := os.Getenv("SEGMENTCORE_QUANTIZATION"); v != "" {
		c.Quantization.Kind = QuantizationKind(v)
	}
	if v := os.Getenv("SEGMENTCORE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SEGMENTCORE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workers = n
		}
	}
	if v := os.Getenv("SEGMENTCORE_CHUNK_SIZE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Storage.ChunkSizeBytes = n
		}
	}
	if v := os.Getenv("SEGMENTCORE_POPULATE"); v != "" {
		c.Storage.Populate = strings.ToLower(v) == "true" || v == "1"
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.VectorDim < 0 {
		return fmt.Errorf("vector_dim must be non-negative, got %d", c.VectorDim)
	}

	validDistances := map[string]bool{"dot": true, "cosine": true, "l1": true, "l2": true}
	if !validDistances[strings.ToLower(c.Distance)] {
		return fmt.Errorf("distance must be 'dot', 'cosine', 'l1', or 'l2', got %s", c.Distance)
	}

	validQuant := map[QuantizationKind]bool{
		QuantizationNone: true, QuantizationScalar: true,
		QuantizationBinary: true, QuantizationProduct: true,
	}
	if !validQuant[c.Quantization.Kind] {
		return fmt.Errorf("quantization.kind must be 'none', 'scalar', 'binary', or 'product', got %s", c.Quantization.Kind)
	}
	if c.Quantization.Kind == QuantizationScalar && c.Quantization.ScalarQuantile != 0 {
		if c.Quantization.ScalarQuantile < 0 || c.Quantization.ScalarQuantile > 1 {
			return fmt.Errorf("quantization.scalar_quantile must be in [0,1], got %f", c.Quantization.ScalarQuantile)
		}
	}
	if c.Quantization.Kind == QuantizationBinary {
		validEncoding := map[BinaryEncoding]bool{
			"": true, BinaryOneBit: true, BinaryOneAndHalfBits: true, BinaryTwoBits: true,
		}
		if !validEncoding[c.Quantization.BinaryEncoding] {
			return fmt.Errorf("quantization.binary_encoding must be 'one_bit', 'one_and_half_bits', or 'two_bits', got %s", c.Quantization.BinaryEncoding)
		}
	}

	if c.Storage.ChunkSizeBytes < 0 {
		return fmt.Errorf("storage.chunk_size_bytes must be non-negative, got %d", c.Storage.ChunkSizeBytes)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	seen := make(map[string]bool, len(c.Fields))
	for _, f := range c.Fields {
		if f.Name == "" {
			return fmt.Errorf("field schema entries must have a non-empty name")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field schema entry for %q", f.Name)
		}
		seen[f.Name] = true
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetUserConfigPath returns the path to the user/global segment-cli
// configuration file, following the XDG Base Directory specification.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "segmentcore", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "segmentcore", "config.yaml")
	}
	return filepath.Join(home, ".config", "segmentcore", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
