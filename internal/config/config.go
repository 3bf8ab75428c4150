// Package config loads framecast and framesink configuration.
//
// Values come from three layers, later ones winning: built-in defaults, an
// optional YAML file, and environment variables. Commands apply their flags
// on top.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

func fieldError(field string, err error) *ConfigError {
	return &ConfigError{Field: field, Message: err.Error()}
}

// ByteSize is a size in bytes that YAML and env values may spell as
// "1KiB", "4MB" or a plain integer.
type ByteSize int

// ParseByteSize parses a human size. Binary and decimal suffixes are both
// treated as powers of 1024.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > int64(^uint32(0)) {
		return 0, fmt.Errorf("size %q out of range", s)
	}
	return ByteSize(n), nil
}

// UnmarshalYAML accepts integers and human sizes.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseByteSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*b = v
	return nil
}

// MarshalYAML writes the size in binary units.
func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

// load decodes the YAML file at path over v. An empty path or a missing
// file leaves v untouched.
func load(path string, v any) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
