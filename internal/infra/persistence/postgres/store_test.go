package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"compliancecore/pkg/domain"
)

const dsnEnv = "COMPLIANCECORE_TEST_POSTGRES_DSN"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := NewStore(ctx, dsn, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(Migrations(), ".")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	data, err := fs.ReadFile(Migrations(), entries[0].Name())
	if err != nil {
		t.Fatalf("read %s: %v", entries[0].Name(), err)
	}
	for _, want := range []string{"-- +goose Up", "CREATE TABLE IF NOT EXISTS inspections", "audit_events", "-- +goose Down"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("migration missing %q", want)
		}
	}
}

func TestNewStoreRejectsBadDSN(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := NewStore(ctx, "postgres://%zz", nil); err == nil {
		t.Fatalf("expected dsn parse error")
	}
}

func newDraft(district string) domain.Inspection {
	id := uuid.NewString()
	return domain.Inspection{
		Base:         domain.Base{ID: id},
		Code:         "T-" + id,
		DistrictCode: district,
		Status:       domain.StatusDraft,
	}
}

func TestPostgresInspectionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	district := "PG" + uuid.NewString()[:6]
	in := newDraft(district)
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateInspection(in)
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateInspection(in)
		return err
	}); !errors.As(err, new(domain.ValidationError)) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateInspection(in.ID, func(cur *domain.Inspection) error {
			cur.Status = domain.StatusSubmitted
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateInspection(in.ID, func(cur *domain.Inspection) error {
			cur.Recommendations = "late edit"
			return nil
		})
		return err
	})
	if !errors.As(err, new(domain.ImmutabilityViolation)) {
		t.Fatalf("expected immutability violation, got %v", err)
	}
	got, err := store.ListInspections(ctx, domain.InspectionFilter{DistrictCode: district, Status: domain.StatusSubmitted})
	if err != nil || len(got) != 1 || got[0].Recommendations != "" {
		t.Fatalf("unexpected list %+v (%v)", got, err)
	}
	if _, err := store.GetInspection(ctx, "missing-"+uuid.NewString()); !errors.As(err, new(domain.NotFoundError)) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostgresSequencesConcurrent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	scope := "test/" + uuid.NewString()
	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]bool{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
				n, err := tx.NextSequence(scope)
				mu.Lock()
				seen[n] = true
				mu.Unlock()
				return err
			})
			if err != nil {
				t.Errorf("sequence: %v", err)
			}
		}()
	}
	wg.Wait()
	for i := int64(1); i <= workers; i++ {
		if !seen[i] {
			t.Fatalf("missing sequence value %d in %v", i, seen)
		}
	}
}

func TestPostgresAuditChain(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	inspectionID := uuid.NewString()
	ts := time.Now().UTC().Truncate(domain.AuditTimestampPrecision)
	batch := make([]domain.AuditEvent, 3)
	for i := range batch {
		batch[i] = domain.AuditEvent{
			ID:           uuid.NewString(),
			InspectionID: inspectionID,
			Sequence:     uint64(i + 1),
			Action:       domain.AuditResponsesSubmitted,
			PerformedBy:  "officer",
			Details:      map[string]string{"n": fmt.Sprint(i)},
			Timestamp:    ts,
		}
	}
	if err := store.AppendAudit(ctx, batch[:2]); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendAudit(ctx, batch); err != nil {
		t.Fatalf("append retry: %v", err)
	}
	events, err := store.ListAudit(ctx, inspectionID)
	if err != nil || len(events) != 3 {
		t.Fatalf("expected 3 events, got %d (%v)", len(events), err)
	}
	for i, e := range events {
		if e.Hash != domain.ComputeAuditHash(e) {
			t.Fatalf("event %d hash does not round-trip", i)
		}
		if i > 0 && e.PrevHash != events[i-1].Hash {
			t.Fatalf("event %d not linked", i)
		}
	}
}
