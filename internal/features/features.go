// Package features decides which optional features are available. Each
// feature has a rule written in expr evaluated against the current Env; a
// stored override switches a feature on or off regardless of its rule.
package features

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

type Feature string

const (
	// HighQuality unlocks the high compression tier.
	HighQuality Feature = "highQuality"
	// SecondaryExport unlocks exporting with a caller-supplied secondary payload.
	SecondaryExport Feature = "secondaryExport"
	// DuplicateCheck looks for an existing item with the same photo before adding.
	DuplicateCheck Feature = "duplicateCheck"
)

// DefaultRules are the rules used when New is given none.
var DefaultRules = map[Feature]string{
	HighQuality:     "premium",
	SecondaryExport: "premium",
	DuplicateCheck:  "itemCount > 0",
}

// Env is what a rule can see.
type Env struct {
	Premium   bool   `expr:"premium"`
	ItemCount int    `expr:"itemCount"`
	Tier      string `expr:"tier"`
}

// ValueStore is the key-value surface used for overrides. *db.Store
// satisfies it.
type ValueStore interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
	DeleteValue(ctx context.Context, key string) error
}

const (
	overridePrefix = "feature."
	overrideOn     = "on"
	overrideOff    = "off"
)

type Gates struct {
	values   ValueStore
	logger   *slog.Logger
	programs map[Feature]*vm.Program
}

// New compiles rules. A nil map uses DefaultRules.
func New(values ValueStore, logger *slog.Logger, rules map[Feature]string) (*Gates, error) {
	if rules == nil {
		rules = DefaultRules
	}
	g := &Gates{values: values, logger: logger, programs: make(map[Feature]*vm.Program, len(rules))}
	for f, src := range rules {
		program, err := expr.Compile(src, expr.Env(Env{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule for %s: %w", f, err)
		}
		g.programs[f] = program
	}
	return g, nil
}

// Features lists the known features in name order.
func (g *Gates) Features() []Feature {
	out := make([]Feature, 0, len(g.programs))
	for f := range g.programs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Enabled reports whether f is available under env.
func (g *Gates) Enabled(ctx context.Context, f Feature, env Env) (bool, error) {
	program, ok := g.programs[f]
	if !ok {
		return false, fmt.Errorf("unknown feature %q", f)
	}

	raw, ok, err := g.values.GetValue(ctx, overridePrefix+string(f))
	if err != nil {
		return false, fmt.Errorf("failed to read override for %s: %w", f, err)
	}
	if ok {
		switch raw {
		case overrideOn:
			return true, nil
		case overrideOff:
			return false, nil
		}
		g.logger.Warn("ignoring unknown feature override", "feature", f, "value", raw)
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rule for %s: %w", f, err)
	}
	enabled, _ := out.(bool)
	return enabled, nil
}

// Override pins f on or off.
func (g *Gates) Override(ctx context.Context, f Feature, enabled bool) error {
	if _, ok := g.programs[f]; !ok {
		return fmt.Errorf("unknown feature %q", f)
	}
	value := overrideOff
	if enabled {
		value = overrideOn
	}
	if err := g.values.SetValue(ctx, overridePrefix+string(f), value); err != nil {
		return fmt.Errorf("failed to override %s: %w", f, err)
	}
	g.logger.Info("feature overridden", "feature", f, "enabled", enabled)
	return nil
}

// ClearOverride returns f to its rule.
func (g *Gates) ClearOverride(ctx context.Context, f Feature) error {
	if err := g.values.DeleteValue(ctx, overridePrefix+string(f)); err != nil {
		return fmt.Errorf("failed to clear override for %s: %w", f, err)
	}
	return nil
}
