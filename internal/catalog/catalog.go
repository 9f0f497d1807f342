// Package catalog provides the indicator catalog, the typed threshold
// decoder, and the configuration snapshotter.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"compliancecore/pkg/domain"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// File is the on-disk catalog layout.
type File struct {
	Pillars    []domain.Pillar      `yaml:"pillars"`
	Indicators []domain.Indicator   `yaml:"indicators"`
	Config     []domain.ConfigEntry `yaml:"config"`
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("unmarshal catalog: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Load reads a catalog file from disk. An empty path loads the built-in catalog.
func Load(path string) (File, error) {
	if path == "" {
		return Parse(defaultCatalog)
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied catalog path
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Default returns a provider over the built-in catalog. The embedded document
// is covered by tests, so a parse failure is a build defect.
func Default() *Static {
	f, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog: %v", err))
	}
	return NewStatic(f)
}

// Validate checks referential integrity and indicator invariants.
func (f File) Validate() error {
	pillars := make(map[string]struct{}, len(f.Pillars))
	for _, p := range f.Pillars {
		if p.ID == "" {
			return domain.ValidationError{Field: "pillar.id", Reason: "required"}
		}
		if _, dup := pillars[p.ID]; dup {
			return domain.ValidationError{Field: "pillar.id", Reason: fmt.Sprintf("duplicate %s", p.ID)}
		}
		pillars[p.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(f.Indicators))
	for _, ind := range f.Indicators {
		if ind.ID == "" {
			return domain.ValidationError{Field: "indicator.id", Reason: "required"}
		}
		if _, dup := seen[ind.ID]; dup {
			return domain.ValidationError{Field: "indicator.id", Reason: fmt.Sprintf("duplicate %s", ind.ID)}
		}
		seen[ind.ID] = struct{}{}
		if !(ind.Weight > 0) || math.IsInf(ind.Weight, 0) {
			return domain.ValidationError{Field: "indicator.weight", Reason: fmt.Sprintf("%s must be a positive finite number", ind.ID)}
		}
		if !ind.RiskLevel.Valid() {
			return domain.ValidationError{Field: "indicator.risk_level", Reason: fmt.Sprintf("%s has %q", ind.ID, ind.RiskLevel)}
		}
		if _, ok := pillars[ind.PillarID]; !ok {
			return domain.ValidationError{Field: "indicator.pillar_id", Reason: fmt.Sprintf("%s references unknown pillar %s", ind.ID, ind.PillarID)}
		}
	}
	if _, err := DecodeThresholds(f.Config); err != nil {
		return err
	}
	return nil
}

// Static is an in-process catalog provider. It satisfies both
// domain.IndicatorCatalog and domain.ThresholdSource; configuration rows may
// be replaced at runtime to model administrator edits.
type Static struct {
	mu         sync.RWMutex
	pillars    []domain.Pillar
	indicators []domain.Indicator
	config     []domain.ConfigEntry
}

var (
	_ domain.IndicatorCatalog = (*Static)(nil)
	_ domain.ThresholdSource  = (*Static)(nil)
)

// NewStatic builds a provider from a catalog document, ordered for display.
func NewStatic(f File) *Static {
	s := &Static{
		pillars:    append([]domain.Pillar(nil), f.Pillars...),
		indicators: append([]domain.Indicator(nil), f.Indicators...),
		config:     append([]domain.ConfigEntry(nil), f.Config...),
	}
	sort.SliceStable(s.pillars, func(i, j int) bool { return s.pillars[i].Order < s.pillars[j].Order })
	order := make(map[string]int, len(s.pillars))
	for i, p := range s.pillars {
		order[p.ID] = i
	}
	sort.SliceStable(s.indicators, func(i, j int) bool {
		a, b := s.indicators[i], s.indicators[j]
		if order[a.PillarID] != order[b.PillarID] {
			return order[a.PillarID] < order[b.PillarID]
		}
		return a.Order < b.Order
	})
	return s
}

// ListIndicators returns the live indicators.
func (s *Static) ListIndicators(context.Context) ([]domain.Indicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Indicator(nil), s.indicators...), nil
}

// ListPillars returns the live pillars.
func (s *Static) ListPillars(context.Context) ([]domain.Pillar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Pillar(nil), s.pillars...), nil
}

// ListConfig returns the live raw configuration rows.
func (s *Static) ListConfig(context.Context) ([]domain.ConfigEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ConfigEntry(nil), s.config...), nil
}

// SetConfig upserts a configuration row after validating that the resulting
// thresholds still decode.
func (s *Static) SetConfig(entry domain.ConfigEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := append([]domain.ConfigEntry(nil), s.config...)
	replaced := false
	for i := range next {
		if next[i].Key == entry.Key {
			next[i] = entry
			replaced = true
		}
	}
	if !replaced {
		next = append(next, entry)
	}
	if _, err := DecodeThresholds(next); err != nil {
		return err
	}
	s.config = next
	return nil
}
