// Package configstore manages the on-disk JSON documents the daemon reads
// at startup and writes back on change: application settings and the MCP
// service map.
package configstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/sys/atomicwriter"
)

// Document is one named on-disk JSON file with a default value merged
// into whatever is already present.
type Document struct {
	name     string
	dir      string
	defaults map[string]any

	data map[string]any
}

// GetPath returns the on-disk path for a named document under appName's
// config directory. On Linux this prefers the XDG config dir; a ".ai.app"
// suffix some OS data-dir implementations append is stripped so paths stay
// stable across platforms.
func GetPath(appName, documentName string) string {
	base := userConfigDir()
	base = strings.TrimSuffix(base, ".ai.app")
	return filepath.Join(base, appName, documentName)
}

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config")
}

// LoadOrDefault reads path, merging it with defaults (missing top-level
// and nested keys are filled in, present keys are never overwritten), and
// writes the merged form back so the next load is a pure parse. A missing
// file, or one that fails to parse, yields a fresh document seeded with
// defaults.
func LoadOrDefault(path string, defaults map[string]any) (*Document, error) {
	doc := &Document{
		name:     filepath.Base(path),
		dir:      filepath.Dir(path),
		defaults: defaults,
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		doc.data = cloneMap(defaults)
		if werr := doc.writeTo(path); werr != nil {
			return nil, werr
		}
		return doc, nil
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		doc.data = cloneMap(defaults)
		if werr := doc.writeTo(path); werr != nil {
			return nil, werr
		}
		return doc, nil
	}

	merged := mergeDefaults(parsed, defaults)
	doc.data = merged
	if err := doc.writeTo(path); err != nil {
		return nil, err
	}
	return doc, nil
}

// mergeDefaults fills in keys present in defaults but missing (at any
// level present in both maps) from stored, without ever overwriting a key
// stored already has. Unknown keys in stored are preserved untouched.
func mergeDefaults(stored, defaults map[string]any) map[string]any {
	out := cloneMap(stored)
	for k, defVal := range defaults {
		storedVal, present := out[k]
		if !present {
			out[k] = cloneValue(defVal)
			continue
		}
		storedSub, storedIsMap := storedVal.(map[string]any)
		defSub, defIsMap := defVal.(map[string]any)
		if storedIsMap && defIsMap {
			out[k] = mergeDefaults(storedSub, defSub)
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	if m, ok := v.(map[string]any); ok {
		return cloneMap(m)
	}
	return v
}

// Get returns the merged document as a generic map.
func (d *Document) Get() map[string]any {
	return d.data
}

// Unmarshal decodes the document into v.
func (d *Document) Unmarshal(v any) error {
	raw, err := json.Marshal(d.data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Save replaces the document's contents with value and writes it back
// atomically.
func (d *Document) Save(path string, value map[string]any) error {
	d.data = value
	return d.writeTo(path)
}

func (d *Document) writeTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	pretty, err := json.MarshalIndent(d.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := atomicwriter.WriteFile(path, pretty, 0o644); err != nil {
		return fmt.Errorf("writing config atomically: %w", err)
	}
	return nil
}
