package catalog

import (
	"context"
	"fmt"
	"time"

	"compliancecore/pkg/domain"
)

// Snapshot freezes thresholds, raw rows and the catalog into a value that
// shares no memory with its inputs.
func Snapshot(thresholds domain.Thresholds, rows []domain.ConfigEntry, indicators []domain.Indicator, pillars []domain.Pillar, now time.Time) domain.ConfigSnapshot {
	raw := make(map[string]string, len(rows))
	for _, row := range rows {
		raw[row.Key] = row.Value
	}
	return domain.ConfigSnapshot{
		Thresholds: thresholds,
		Indicators: append([]domain.Indicator(nil), indicators...),
		Pillars:    append([]domain.Pillar(nil), pillars...),
		Raw:        raw,
		CapturedAt: now.UTC(),
	}
}

// Live is the decoded live configuration at one point in time.
type Live struct {
	Indicators []domain.Indicator
	Pillars    []domain.Pillar
	Rows       []domain.ConfigEntry
	Thresholds domain.Thresholds
}

// ReadLive loads and decodes the live catalog and thresholds.
func ReadLive(ctx context.Context, cat domain.IndicatorCatalog, src domain.ThresholdSource) (Live, error) {
	indicators, err := cat.ListIndicators(ctx)
	if err != nil {
		return Live{}, fmt.Errorf("list indicators: %w", err)
	}
	pillars, err := cat.ListPillars(ctx)
	if err != nil {
		return Live{}, fmt.Errorf("list pillars: %w", err)
	}
	rows, err := src.ListConfig(ctx)
	if err != nil {
		return Live{}, fmt.Errorf("list config: %w", err)
	}
	thresholds, err := DecodeThresholds(rows)
	if err != nil {
		return Live{}, err
	}
	return Live{Indicators: indicators, Pillars: pillars, Rows: rows, Thresholds: thresholds}, nil
}

// Snapshot freezes the live configuration.
func (l Live) Snapshot(now time.Time) domain.ConfigSnapshot {
	return Snapshot(l.Thresholds, l.Rows, l.Indicators, l.Pillars, now)
}
