package domain

import "time"

// Clone returns a deep copy of the inspection so callers never share slices
// with a store's internal state.
func (i Inspection) Clone() Inspection {
	out := i
	out.ScheduledAt = cloneTime(i.ScheduledAt)
	out.SubmittedAt = cloneTime(i.SubmittedAt)
	out.ConfigSnapshot = i.ConfigSnapshot.Clone()
	out.Deviations = cloneDeviations(i.Deviations)
	if i.Responses != nil {
		out.Responses = make([]IndicatorResponse, len(i.Responses))
		for idx, r := range i.Responses {
			out.Responses[idx] = r.clone()
		}
	}
	if i.Samples != nil {
		out.Samples = make([]Sample, len(i.Samples))
		for idx, s := range i.Samples {
			s.DispatchedAt = cloneTime(s.DispatchedAt)
			out.Samples[idx] = s
		}
	}
	if i.Photos != nil {
		out.Photos = append([]Photo(nil), i.Photos...)
	}
	return out
}

// Clone returns a deep copy of the snapshot.
func (c ConfigSnapshot) Clone() ConfigSnapshot {
	out := c
	if c.Indicators != nil {
		out.Indicators = append([]Indicator(nil), c.Indicators...)
	}
	if c.Pillars != nil {
		out.Pillars = append([]Pillar(nil), c.Pillars...)
	}
	if c.Raw != nil {
		out.Raw = make(map[string]string, len(c.Raw))
		for k, v := range c.Raw {
			out.Raw[k] = v
		}
	}
	return out
}

// Clone returns a deep copy of the audit event.
func (e AuditEvent) Clone() AuditEvent {
	out := e
	if e.Details != nil {
		out.Details = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			out.Details[k] = v
		}
	}
	return out
}

func (r IndicatorResponse) clone() IndicatorResponse {
	if r.EvidenceRefs != nil {
		r.EvidenceRefs = append([]string(nil), r.EvidenceRefs...)
	}
	return r
}

func cloneDeviations(in []Deviation) []Deviation {
	if in == nil {
		return nil
	}
	return append([]Deviation(nil), in...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
