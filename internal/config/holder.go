package config

import (
	"fmt"
	"sync/atomic"
)

// Holder provides atomic access to the current Config with hot reload.
// Reload re-runs the defaults < YAML < ENV hierarchy; a failed reload
// keeps the previous config in place.
type Holder struct {
	current  atomic.Pointer[Config]
	yamlPath string
}

// NewHolder wraps an already-loaded config for later reloads from yamlPath.
func NewHolder(cfg *Config, yamlPath string) *Holder {
	h := &Holder{yamlPath: yamlPath}
	h.current.Store(cfg)
	return h
}

// Get returns the current config. The returned pointer must be treated
// as read-only.
func (h *Holder) Get() *Config {
	return h.current.Load()
}

// Reload re-loads the config from the holder's YAML path. On error the
// previous config remains active.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.yamlPath)
	if err != nil {
		return fmt.Errorf("config reload: %w", err)
	}
	h.current.Store(cfg)
	return nil
}
