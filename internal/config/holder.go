package config

import "sync"

// Holder shares a live configuration between the settings UI and the runner.
// Readers always get a copy.
type Holder struct {
	mu  sync.RWMutex
	cfg Config
}

// NewHolder wraps cfg. A nil cfg starts from DefaultConfig.
func NewHolder(cfg *Config) *Holder {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Holder{cfg: cloneConfig(*cfg)}
}

// Get returns a copy of the current configuration.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := cloneConfig(h.cfg)
	return &cp
}

// Set replaces the current configuration.
func (h *Holder) Set(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cloneConfig(*cfg)
}

// Settings returns the per-run settings of the current configuration.
func (h *Holder) Settings() RunSettings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg.RunSettings()
}

func cloneConfig(c Config) Config {
	tools := make([]ToolConfig, len(c.Tools))
	for i, t := range c.Tools {
		t.Args = append([]string(nil), t.Args...)
		tools[i] = t
	}
	c.Tools = tools
	return c
}
