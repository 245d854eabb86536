package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// ErrIncludeCycle is returned when $include directives form a loop.
var ErrIncludeCycle = errors.New("config include cycle")

// document is one config file after parsing, with its includes split out
// and environment references in string values expanded.
type document struct {
	values   map[string]any
	includes []string
}

// LoadRaw reads a configuration file into a single raw map. Files named by
// $include are layered underneath in order, so the including file wins.
// The result still has to pass ValidateRaw before it is decoded.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	var r includeResolver
	return r.resolve(path)
}

// includeResolver walks $include directives depth first. chain holds the
// files currently being resolved.
type includeResolver struct {
	chain []string
}

func (r *includeResolver) resolve(path string) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for _, open := range r.chain {
		if open == absPath {
			return nil, fmt.Errorf("%w: %s", ErrIncludeCycle, strings.Join(append(r.chain, absPath), " -> "))
		}
	}
	r.chain = append(r.chain, absPath)
	defer func() { r.chain = r.chain[:len(r.chain)-1] }()

	doc, err := readDocument(absPath)
	if err != nil {
		return nil, err
	}

	var layered map[string]any
	for _, inc := range doc.includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(absPath), inc)
		}
		values, err := r.resolve(inc)
		if err != nil {
			return nil, err
		}
		layered = overlay(layered, values)
	}
	return overlay(layered, doc.values), nil
}

func readDocument(path string) (*document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	values, err := ParseRaw(data, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	includes, err := includeList(values[includeKey])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	delete(values, includeKey)
	return &document{values: expandEnv(values).(map[string]any), includes: includes}, nil
}

// ParseRaw decodes one YAML or JSON5 document. The format is chosen from
// the extension of pathHint; anything but .json/.json5 is YAML.
func ParseRaw(data []byte, pathHint string) (map[string]any, error) {
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(pathHint)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config: expected single document")
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// includeList accepts a single path or a list of paths. Blank entries are
// skipped.
func includeList(v any) ([]string, error) {
	var entries []any
	switch typed := v.(type) {
	case nil:
		return nil, nil
	case string:
		entries = []any{typed}
	case []any:
		entries = typed
	default:
		return nil, fmt.Errorf("%s must be a string or list of strings", includeKey)
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		s, ok := entry.(string)
		if !ok {
			return nil, fmt.Errorf("%s entries must be strings", includeKey)
		}
		if s = strings.TrimSpace(s); s != "" {
			paths = append(paths, s)
		}
	}
	return paths, nil
}

// expandEnv replaces $VAR and ${VAR} in string values. Keys are left alone.
func expandEnv(v any) any {
	switch typed := v.(type) {
	case string:
		return os.ExpandEnv(typed)
	case map[string]any:
		for k, val := range typed {
			typed[k] = expandEnv(val)
		}
		return typed
	case []any:
		for i, val := range typed {
			typed[i] = expandEnv(val)
		}
		return typed
	default:
		return v
	}
}

// overlay returns base with top layered over it. Nested maps merge key by
// key; any other value in top, lists included, replaces the one in base.
// Neither input is modified.
func overlay(base, top map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(top))
	maps.Copy(out, base)
	for key, value := range top {
		sub, isMap := value.(map[string]any)
		prev, wasMap := out[key].(map[string]any)
		if isMap && wasMap {
			out[key] = overlay(prev, sub)
			continue
		}
		out[key] = value
	}
	return out
}

// decodeStrict turns a schema-checked raw map into a Config, rejecting
// keys no field claims.
func decodeStrict(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
