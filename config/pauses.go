package config

import (
	"strings"
	"sync/atomic"
)

// PauseRegistry is the live pause switchboard handed to every engine. Reads
// are lock-free; writes replace the whole snapshot so a reader never observes
// a half-applied change.
type PauseRegistry struct {
	snapshot atomic.Pointer[map[string]bool]
}

// NewPauseRegistry seeds the registry from the configured module list.
func NewPauseRegistry(p Pauses) *PauseRegistry {
	r := &PauseRegistry{}
	snapshot := make(map[string]bool, len(p.Modules))
	for _, module := range p.Modules {
		name := strings.ToLower(strings.TrimSpace(module))
		if name != "" {
			snapshot[name] = true
		}
	}
	r.snapshot.Store(&snapshot)
	return r
}

// IsPaused reports whether the module is currently paused.
func (r *PauseRegistry) IsPaused(module string) bool {
	if r == nil {
		return false
	}
	snapshot := r.snapshot.Load()
	if snapshot == nil {
		return false
	}
	return (*snapshot)[strings.ToLower(module)]
}

// SetPaused flips one module's pause flag via copy-on-write.
func (r *PauseRegistry) SetPaused(module string, paused bool) {
	name := strings.ToLower(strings.TrimSpace(module))
	if name == "" {
		return
	}
	for {
		old := r.snapshot.Load()
		next := make(map[string]bool)
		if old != nil {
			for k, v := range *old {
				next[k] = v
			}
		}
		if paused {
			next[name] = true
		} else {
			delete(next, name)
		}
		if r.snapshot.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Paused returns the currently paused modules in no particular order.
func (r *PauseRegistry) Paused() []string {
	snapshot := r.snapshot.Load()
	if snapshot == nil {
		return nil
	}
	out := make([]string, 0, len(*snapshot))
	for module, paused := range *snapshot {
		if paused {
			out = append(out, module)
		}
	}
	return out
}
