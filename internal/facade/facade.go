// Package facade defines the bounded tool surface advertised to clients.
//
// A facade is one externally visible tool name that fans out to several
// internal operations through an "action" parameter. Every facade carries
// three description strings sized for different model context budgets;
// all three advertised views are regenerated from this one source of
// truth, never hand-maintained separately.
package facade

import (
	"fmt"
	"sort"

	"github.com/decibelsystems/decibel/internal/model"
)

// Tier selects how much descriptive detail a tool listing carries.
type Tier string

const (
	// TierFull includes every facade with its complete description and
	// per-action help text.
	TierFull Tier = "full"
	// TierCompact includes every facade with its one-line description.
	TierCompact Tier = "compact"
	// TierMicro includes only micro-eligible facades, using the compact
	// description.
	TierMicro Tier = "micro"
)

// ParseTier validates a client-supplied tier string.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierFull, TierCompact, TierMicro:
		return Tier(s), nil
	}
	return "", fmt.Errorf("facade: unknown detail tier %q", s)
}

// Spec describes one facade. Immutable after table construction.
type Spec struct {
	Name          string
	Full          string // complete description, full tier
	Compact       string // one-line description, compact and micro tiers
	MicroEligible bool

	// Actions maps external action names to internal operation names.
	// When empty, the facade name itself is the operation name.
	Actions map[string]string

	// ActionHelp carries per-action help text, included in the full tier.
	ActionHelp map[string]string
}

// ActionNames returns the facade's action names in sorted order.
func (s Spec) ActionNames() []string {
	names := make([]string, 0, len(s.Actions))
	for name := range s.Actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Table is the static facade mapping, loaded once at startup.
type Table struct {
	specs  []Spec
	byName map[string]Spec
}

// NewTable builds a table from specs, rejecting duplicate facade names
// and actions that map to an empty operation name.
func NewTable(specs []Spec) (*Table, error) {
	t := &Table{byName: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("facade: spec with empty name")
		}
		if _, dup := t.byName[s.Name]; dup {
			return nil, fmt.Errorf("facade: duplicate facade %q", s.Name)
		}
		for action, op := range s.Actions {
			if op == "" {
				return nil, fmt.Errorf("facade: %s action %q maps to empty operation", s.Name, action)
			}
		}
		t.byName[s.Name] = s
		t.specs = append(t.specs, s)
	}
	return t, nil
}

// Specs returns the table's facades in declaration order.
func (t *Table) Specs() []Spec {
	return t.specs
}

// Lookup returns the facade with the given name.
func (t *Table) Lookup(name string) (Spec, bool) {
	s, ok := t.byName[name]
	return s, ok
}

// Resolve maps (tool, action) to an internal operation name. Resolution
// is exact-name only; any ambiguity is an error, never a fallback.
func (t *Table) Resolve(tool, action string) (string, error) {
	spec, ok := t.byName[tool]
	if !ok {
		return "", model.NewCodedError(model.ErrCodeUnknownTool, "unknown tool %q", tool)
	}
	if len(spec.Actions) == 0 {
		// No action enum: the facade name is the operation.
		return spec.Name, nil
	}
	op, ok := spec.Actions[action]
	if !ok {
		if action == "" {
			return "", model.NewCodedError(model.ErrCodeUnknownAction, "tool %q requires an action", tool)
		}
		return "", model.NewCodedError(model.ErrCodeUnknownAction, "tool %q has no action %q", tool, action)
	}
	return op, nil
}

// Operations returns every internal operation name the table maps to.
func (t *Table) Operations() []string {
	seen := make(map[string]struct{})
	var ops []string
	for _, s := range t.specs {
		if len(s.Actions) == 0 {
			if _, ok := seen[s.Name]; !ok {
				seen[s.Name] = struct{}{}
				ops = append(ops, s.Name)
			}
			continue
		}
		for _, op := range s.Actions {
			if _, ok := seen[op]; !ok {
				seen[op] = struct{}{}
				ops = append(ops, op)
			}
		}
	}
	sort.Strings(ops)
	return ops
}

// Validate checks that every mapped operation resolves to a known
// handler, so no facade action can dangle.
func (t *Table) Validate(known func(op string) bool) error {
	for _, op := range t.Operations() {
		if !known(op) {
			return fmt.Errorf("facade: operation %q has no registered handler", op)
		}
	}
	return nil
}
