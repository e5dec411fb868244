package configstore

import (
	"encoding/json"
	"sync"
)

// MCPServiceEntry is the on-disk shape of one entry in mcp_config.json's
// "mcpServers" map.
type MCPServiceEntry struct {
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Envs      map[string]string `json:"envs"`
	Transport string            `json:"transport"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	TimeoutMS int64             `json:"timeout_ms,omitempty"`
	Active    bool              `json:"active"`
}

func defaultMCPConfig() map[string]any {
	return map[string]any{"mcpServers": map[string]any{}}
}

// MCPConfig wraps mcp_config.json, satisfying mcpsupervisor's
// ConfigPersister interface so Activate/Deactivate can flip a service's
// active flag without mcpsupervisor importing this package's concrete
// types.
type MCPConfig struct {
	path string

	mu  sync.Mutex
	doc *Document
}

// LoadMCPConfig loads (or creates) the mcp_config.json document at path.
func LoadMCPConfig(path string) (*MCPConfig, error) {
	doc, err := LoadOrDefault(path, defaultMCPConfig())
	if err != nil {
		return nil, err
	}
	return &MCPConfig{path: path, doc: doc}, nil
}

// Services returns the currently configured mcpServers map.
func (c *MCPConfig) Services() (map[string]MCPServiceEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, ok := c.doc.Get()["mcpServers"]
	if !ok {
		return map[string]MCPServiceEntry{}, nil
	}
	blob, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var out map[string]MCPServiceEntry
	if err := json.Unmarshal(blob, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetActive flips name's active flag and persists the document. It is a
// no-op (not an error) if name is not present, matching the original
// implementation's tolerance for activating services absent from the
// on-disk config (e.g. ones added purely at runtime).
func (c *MCPConfig) SetActive(name string, active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.doc.Get()
	serversRaw, _ := current["mcpServers"].(map[string]any)
	if serversRaw == nil {
		serversRaw = map[string]any{}
	}
	entryRaw, ok := serversRaw[name].(map[string]any)
	if !ok {
		return nil
	}
	entryRaw["active"] = active
	serversRaw[name] = entryRaw
	current["mcpServers"] = serversRaw

	return c.doc.Save(c.path, current)
}
