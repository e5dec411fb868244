package configstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func defaults() map[string]any {
	return map[string]any{
		"host": "127.0.0.1",
		"port": float64(8080),
		"embedding_config": map[string]any{
			"base_url": "http://localhost:11434",
			"model":    "nomic-embed-text",
		},
	}
}

func TestLoadOrDefaultMissingFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	doc, err := LoadOrDefault(path, defaults())
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if doc.Get()["host"] != "127.0.0.1" {
		t.Fatalf("got %v, want default host", doc.Get()["host"])
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected defaults to be written to disk: %v", err)
	}
}

func TestLoadOrDefaultMergesMissingNestedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	stored := map[string]any{
		"host": "0.0.0.0",
		"embedding_config": map[string]any{
			"model": "custom-model",
		},
	}
	raw, _ := json.Marshal(stored)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := LoadOrDefault(path, defaults())
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}

	if doc.Get()["host"] != "0.0.0.0" {
		t.Fatalf("present key overwritten: %v", doc.Get()["host"])
	}
	embed := doc.Get()["embedding_config"].(map[string]any)
	if embed["model"] != "custom-model" {
		t.Fatalf("present nested key overwritten: %v", embed["model"])
	}
	if embed["base_url"] != "http://localhost:11434" {
		t.Fatalf("missing nested key not merged in: %v", embed["base_url"])
	}

	rewritten, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk map[string]any
	if err := json.Unmarshal(rewritten, &onDisk); err != nil {
		t.Fatal(err)
	}
	if onDisk["host"] != "0.0.0.0" {
		t.Fatalf("merged form not written back: %v", onDisk)
	}
}

func TestLoadOrDefaultUnparseableFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := LoadOrDefault(path, defaults())
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if doc.Get()["host"] != "127.0.0.1" {
		t.Fatalf("got %v, want defaults on parse failure", doc.Get()["host"])
	}
}

func TestDocumentSaveAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	doc, err := LoadOrDefault(path, defaults())
	if err != nil {
		t.Fatal(err)
	}

	updated := doc.Get()
	updated["host"] = "192.168.1.1"
	if err := doc.Save(path, updated); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk map[string]any
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatal(err)
	}
	if onDisk["host"] != "192.168.1.1" {
		t.Fatalf("got %v, want updated host", onDisk["host"])
	}
}

func TestMCPConfigSetActiveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp_config.json")
	seed := map[string]any{
		"mcpServers": map[string]any{
			"filesystem": map[string]any{
				"command": "npx",
				"args":    []any{"-y", "@modelcontextprotocol/server-filesystem"},
				"active":  false,
			},
		},
	}
	raw, _ := json.MarshalIndent(seed, "", "  ")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadMCPConfig(path)
	if err != nil {
		t.Fatalf("LoadMCPConfig: %v", err)
	}

	if err := cfg.SetActive("filesystem", true); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	services, err := cfg.Services()
	if err != nil {
		t.Fatalf("Services: %v", err)
	}
	if !services["filesystem"].Active {
		t.Fatalf("expected filesystem to be active after SetActive")
	}

	reloaded, err := LoadMCPConfig(path)
	if err != nil {
		t.Fatalf("reloading: %v", err)
	}
	reloadedServices, err := reloaded.Services()
	if err != nil {
		t.Fatal(err)
	}
	if !reloadedServices["filesystem"].Active {
		t.Fatalf("active flag did not persist across reload")
	}
}

func TestMCPConfigSetActiveUnknownServiceIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp_config.json")
	cfg, err := LoadMCPConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.SetActive("does-not-exist", true); err != nil {
		t.Fatalf("SetActive on unknown service should be a no-op, got error: %v", err)
	}
}
