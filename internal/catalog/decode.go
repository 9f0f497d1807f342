package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"compliancecore/pkg/domain"
)

// Threshold defaults applied when a key is absent from the configuration.
const (
	DefaultLowRiskMaxScore            = 15
	DefaultMediumRiskMaxScore         = 35
	DefaultHighRiskIndicatorThreshold = 5
)

// Value is a decoded configuration value. Exactly one field matching Type is set.
type Value struct {
	Type   domain.ConfigValueType
	Number float64
	Bool   bool
	JSON   any
	String string
}

// DecodeError reports a configuration row that could not be decoded.
type DecodeError struct {
	Key    string
	Reason string
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("config %q: %s", e.Key, e.Reason)
}

// ParseEntry converts a raw row into its typed value.
func ParseEntry(entry domain.ConfigEntry) (Value, error) {
	raw := strings.TrimSpace(entry.Value)
	switch entry.Type {
	case domain.ConfigNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, DecodeError{Key: entry.Key, Reason: fmt.Sprintf("not a number: %q", entry.Value)}
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return Value{}, DecodeError{Key: entry.Key, Reason: fmt.Sprintf("not a finite number: %q", entry.Value)}
		}
		return Value{Type: entry.Type, Number: n}, nil
	case domain.ConfigBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Value{}, DecodeError{Key: entry.Key, Reason: fmt.Sprintf("not a boolean: %q", entry.Value)}
		}
		return Value{Type: entry.Type, Bool: b}, nil
	case domain.ConfigJSON:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return Value{}, DecodeError{Key: entry.Key, Reason: fmt.Sprintf("invalid json: %v", err)}
		}
		return Value{Type: entry.Type, JSON: v}, nil
	case domain.ConfigString, "":
		return Value{Type: domain.ConfigString, String: entry.Value}, nil
	default:
		return Value{}, DecodeError{Key: entry.Key, Reason: fmt.Sprintf("unsupported type %q", entry.Type)}
	}
}

// Decode parses every row into a typed map keyed by config key. Later rows
// override earlier ones.
func Decode(rows []domain.ConfigEntry) (map[string]Value, error) {
	out := make(map[string]Value, len(rows))
	for _, row := range rows {
		if row.Key == "" {
			return nil, DecodeError{Key: row.Key, Reason: "empty key"}
		}
		v, err := ParseEntry(row)
		if err != nil {
			return nil, err
		}
		out[row.Key] = v
	}
	return out, nil
}

// DecodeThresholds extracts the classification thresholds from raw rows.
func DecodeThresholds(rows []domain.ConfigEntry) (domain.Thresholds, error) {
	values, err := Decode(rows)
	if err != nil {
		return domain.Thresholds{}, err
	}
	t := domain.Thresholds{
		LowRiskMaxScore:            DefaultLowRiskMaxScore,
		MediumRiskMaxScore:         DefaultMediumRiskMaxScore,
		HighRiskIndicatorThreshold: DefaultHighRiskIndicatorThreshold,
	}
	if v, ok := values[domain.ConfigLowRiskMaxScore]; ok {
		if t.LowRiskMaxScore, err = number(domain.ConfigLowRiskMaxScore, v); err != nil {
			return domain.Thresholds{}, err
		}
	}
	if v, ok := values[domain.ConfigMediumRiskMaxScore]; ok {
		if t.MediumRiskMaxScore, err = number(domain.ConfigMediumRiskMaxScore, v); err != nil {
			return domain.Thresholds{}, err
		}
	}
	if v, ok := values[domain.ConfigHighRiskIndicatorThreshold]; ok {
		n, err := number(domain.ConfigHighRiskIndicatorThreshold, v)
		if err != nil {
			return domain.Thresholds{}, err
		}
		if n != float64(int(n)) {
			return domain.Thresholds{}, DecodeError{Key: domain.ConfigHighRiskIndicatorThreshold, Reason: "must be a whole number"}
		}
		t.HighRiskIndicatorThreshold = int(n)
	}
	if err := ValidateThresholds(t); err != nil {
		return domain.Thresholds{}, err
	}
	return t, nil
}

// ValidateThresholds checks band ordering and signs.
func ValidateThresholds(t domain.Thresholds) error {
	switch {
	case !finite(t.LowRiskMaxScore):
		return DecodeError{Key: domain.ConfigLowRiskMaxScore, Reason: "must be a finite number"}
	case !finite(t.MediumRiskMaxScore):
		return DecodeError{Key: domain.ConfigMediumRiskMaxScore, Reason: "must be a finite number"}
	case t.LowRiskMaxScore < 0:
		return DecodeError{Key: domain.ConfigLowRiskMaxScore, Reason: "must not be negative"}
	case t.MediumRiskMaxScore < 0:
		return DecodeError{Key: domain.ConfigMediumRiskMaxScore, Reason: "must not be negative"}
	case t.HighRiskIndicatorThreshold < 0:
		return DecodeError{Key: domain.ConfigHighRiskIndicatorThreshold, Reason: "must not be negative"}
	case t.LowRiskMaxScore > t.MediumRiskMaxScore:
		return DecodeError{Key: domain.ConfigLowRiskMaxScore, Reason: "exceeds mediumRiskMaxScore"}
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func number(key string, v Value) (float64, error) {
	if v.Type != domain.ConfigNumber {
		return 0, DecodeError{Key: key, Reason: fmt.Sprintf("expected number, got %s", v.Type)}
	}
	return v.Number, nil
}
