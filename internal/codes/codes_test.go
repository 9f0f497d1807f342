package codes

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"compliancecore/internal/infra/persistence/memory"
	"compliancecore/pkg/domain"
)

func TestGeneratorFormatsPerDistrictAndYear(t *testing.T) {
	gen := NewGenerator(NewStoreSequencer(memory.NewStore(nil)))
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		district string
		at       time.Time
		want     string
	}{
		{"kmr", at, "KMR-2026-00001"},
		{"KMR", at, "KMR-2026-00002"},
		{"NBO", at, "NBO-2026-00001"},
		{"KMR", at.AddDate(1, 0, 0), "KMR-2027-00001"},
	}
	for _, tc := range cases {
		got, err := gen.NextCode(ctx, tc.district, tc.at)
		if err != nil {
			t.Fatalf("next code: %v", err)
		}
		if got != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, got)
		}
	}
}

func TestGeneratorRejectsBadDistrict(t *testing.T) {
	gen := NewGenerator(NewStoreSequencer(memory.NewStore(nil)))
	for _, d := range []string{"", "  ", "K-1", "nbo/"} {
		if _, err := gen.NextCode(context.Background(), d, time.Now()); !errors.As(err, new(domain.ValidationError)) {
			t.Fatalf("expected validation error for %q, got %v", d, err)
		}
	}
}

type failingSequencer struct{}

func (failingSequencer) Next(context.Context, string) (int64, error) {
	return 0, errors.New("redis down")
}

func TestGeneratorWrapsSequencerError(t *testing.T) {
	_, err := NewGenerator(failingSequencer{}).NextCode(context.Background(), "KMR", time.Now())
	if err == nil || err.Error() != "next code for KMR: redis down" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestGeneratorUniqueUnderConcurrency(t *testing.T) {
	gen := NewGenerator(NewStoreSequencer(memory.NewStore(nil)))
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := gen.NextCode(ctx, "KMR", at)
			if err != nil {
				t.Errorf("next code: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[code] {
				t.Errorf("duplicate code %s", code)
			}
			seen[code] = true
		}()
	}
	wg.Wait()
	if len(seen) != 25 {
		t.Fatalf("expected 25 codes, got %d", len(seen))
	}
}
