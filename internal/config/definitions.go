// Package config loads bucket and store definitions from YAML or TOML
// files, watches a definitions file for hot reload, and layers
// operational parameters (TTL scheduler interval, persistence debounce,
// commit-retry backoff) from defaults, an optional config file, and
// EMBER_*-prefixed environment variables, mirroring the teacher's own
// viper-backed layered configuration convention.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/emberdb/ember/internal/types"
)

// fieldFile is the file-format shape of a schema field. It mirrors
// types.FieldDefinition minus DefaultFn, which has no file representation.
type fieldFile struct {
	Type      string   `yaml:"type" toml:"type"`
	Required  bool     `yaml:"required" toml:"required"`
	Default   any      `yaml:"default" toml:"default"`
	Generated string   `yaml:"generated" toml:"generated"`
	Enum      []any    `yaml:"enum" toml:"enum"`
	Format    string   `yaml:"format" toml:"format"`
	Min       *float64 `yaml:"min" toml:"min"`
	Max       *float64 `yaml:"max" toml:"max"`
	MinLength *int     `yaml:"minLength" toml:"minLength"`
	MaxLength *int     `yaml:"maxLength" toml:"maxLength"`
	Pattern   string   `yaml:"pattern" toml:"pattern"`
	Unique    bool     `yaml:"unique" toml:"unique"`
	Ref       string   `yaml:"ref" toml:"ref"`
}

// bucketFile is the file-format shape of one bucket definition.
type bucketFile struct {
	Name       string               `yaml:"name" toml:"name"`
	Key        string               `yaml:"key" toml:"key"`
	Schema     map[string]fieldFile `yaml:"schema" toml:"schema"`
	Indexes    []string             `yaml:"indexes" toml:"indexes"`
	TTL        any                  `yaml:"ttl" toml:"ttl"`
	MaxSize    int                  `yaml:"maxSize" toml:"maxSize"`
	Persistent *bool                `yaml:"persistent" toml:"persistent"`
}

// definitionsFile is the top-level shape of a definitions file.
type definitionsFile struct {
	Buckets []bucketFile `yaml:"buckets" toml:"buckets"`
}

// LoadDefinitions parses a bucket/store definitions file, selecting YAML
// or TOML by file extension (.yaml/.yml or .toml). The result is the same
// []types.BucketDefinition a caller could otherwise build with Go struct
// literals; LoadDefinitions changes nothing about runtime semantics.
func LoadDefinitions(path string) ([]types.BucketDefinition, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is operator-supplied at startup
	if err != nil {
		return nil, fmt.Errorf("config: read definitions file %s: %w", path, err)
	}

	var doc definitionsFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("config: parse yaml definitions %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("config: parse toml definitions %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported definitions file extension %q (want .yaml, .yml, or .toml)", ext)
	}

	defs := make([]types.BucketDefinition, 0, len(doc.Buckets))
	for _, bf := range doc.Buckets {
		def, err := bf.toBucketDefinition()
		if err != nil {
			return nil, fmt.Errorf("config: bucket %q: %w", bf.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (bf bucketFile) toBucketDefinition() (types.BucketDefinition, error) {
	schema := make(types.Schema, len(bf.Schema))
	for name, ff := range bf.Schema {
		fd, err := ff.toFieldDefinition()
		if err != nil {
			return types.BucketDefinition{}, fmt.Errorf("field %q: %w", name, err)
		}
		schema[name] = fd
	}
	return types.BucketDefinition{
		Name:       bf.Name,
		Key:        bf.Key,
		Schema:     schema,
		Indexes:    bf.Indexes,
		TTL:        bf.TTL,
		MaxSize:    bf.MaxSize,
		Persistent: bf.Persistent,
	}, nil
}

func (ff fieldFile) toFieldDefinition() (types.FieldDefinition, error) {
	fd := types.FieldDefinition{
		Required:  ff.Required,
		Default:   ff.Default,
		Enum:      ff.Enum,
		Min:       ff.Min,
		Max:       ff.Max,
		MinLength: ff.MinLength,
		MaxLength: ff.MaxLength,
		Pattern:   ff.Pattern,
		Unique:    ff.Unique,
		Ref:       ff.Ref,
	}
	if ff.Type != "" {
		fd.Type = types.FieldType(ff.Type)
	}
	if ff.Generated != "" {
		fd.Generated = types.Generated(ff.Generated)
	}
	if ff.Format != "" {
		fd.Format = types.Format(ff.Format)
	}
	return fd, nil
}
