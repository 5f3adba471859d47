package logging

import (
	"context"
	"log/slog"
	"sync"
)

// componentKey is the attribute that identifies the emitting component.
const componentKey = "component"

// levelTable is shared by a ComponentFilterHandler and all of its clones so
// that SetLevel affects loggers already scoped with With().
type levelTable struct {
	mu     sync.RWMutex
	def    slog.Level
	levels map[string]slog.Level
}

func (t *levelTable) level(component string) slog.Level {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if l, ok := t.levels[component]; ok {
		return l
	}
	return t.def
}

// min returns the lowest level any component accepts.
func (t *levelTable) min() slog.Level {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m := t.def
	for _, l := range t.levels {
		if l < m {
			m = l
		}
	}
	return m
}

// ComponentFilterHandler filters records by a per-component minimum level.
// Records without a component attribute use the default level.
type ComponentFilterHandler struct {
	next      slog.Handler
	table     *levelTable
	component string
}

// NewComponentFilterHandler wraps next with per-component level filtering.
func NewComponentFilterHandler(next slog.Handler, def slog.Level) *ComponentFilterHandler {
	return &ComponentFilterHandler{
		next:  next,
		table: &levelTable{def: def, levels: make(map[string]slog.Level)},
	}
}

// SetLevel overrides the minimum level for one component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	h.table.mu.Lock()
	h.table.levels[component] = level
	h.table.mu.Unlock()
}

// ClearLevel removes a component override.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	h.table.mu.Lock()
	delete(h.table.levels, component)
	h.table.mu.Unlock()
}

// Level returns the effective minimum level for a component.
func (h *ComponentFilterHandler) Level(component string) slog.Level {
	return h.table.level(component)
}

// DefaultLevel returns the level used for records without an override.
func (h *ComponentFilterHandler) DefaultLevel() slog.Level {
	return h.table.def
}

func (h *ComponentFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	var threshold slog.Level
	if h.component != "" {
		threshold = h.table.level(h.component)
	} else {
		// The component may still arrive as a record attribute.
		threshold = h.table.min()
	}
	if level < threshold {
		return false
	}
	return h.next == nil || h.next.Enabled(ctx, level)
}

func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	if component == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == componentKey {
				component = a.Value.String()
				return false
			}
			return true
		})
	}
	if r.Level < h.table.level(component) {
		return nil
	}
	if h.next == nil {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	for _, a := range attrs {
		if a.Key == componentKey {
			clone.component = a.Value.String()
		}
	}
	if h.next != nil {
		clone.next = h.next.WithAttrs(attrs)
	}
	return &clone
}

func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if h.next != nil {
		clone.next = h.next.WithGroup(name)
	}
	return &clone
}
