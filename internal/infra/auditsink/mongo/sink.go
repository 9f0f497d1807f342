// Package mongo provides a MongoDB-backed audit sink. Each inspection's chain
// is extended optimistically: a unique (inspection_id, chain_index) index
// rejects a concurrent writer, and the recorder retries the batch.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"compliancecore/pkg/domain"
)

var _ domain.AuditSink = (*Sink)(nil)

const (
	// DefaultDatabase is used when no database name is configured.
	DefaultDatabase = "compliancecore"
	// Collection holds audit event documents.
	Collection = "audit_events"
)

// ErrChainConflict is returned when another writer extended a chain first.
var ErrChainConflict = errors.New("audit chain extended concurrently")

type record struct {
	ID           string            `bson:"_id"`
	InspectionID string            `bson:"inspection_id"`
	ChainIndex   int64             `bson:"chain_index"`
	Sequence     int64             `bson:"sequence"`
	Action       string            `bson:"action"`
	PerformedBy  string            `bson:"performed_by"`
	Details      map[string]string `bson:"details"`
	Timestamp    time.Time         `bson:"timestamp"`
	PrevHash     string            `bson:"prev_hash"`
	Hash         string            `bson:"hash"`
}

func toRecord(e domain.AuditEvent, index int64) record {
	return record{
		ID:           e.ID,
		InspectionID: e.InspectionID,
		ChainIndex:   index,
		Sequence:     int64(e.Sequence),
		Action:       string(e.Action),
		PerformedBy:  e.PerformedBy,
		Details:      e.Details,
		Timestamp:    e.Timestamp.UTC(),
		PrevHash:     e.PrevHash,
		Hash:         e.Hash,
	}
}

func (r record) event() domain.AuditEvent {
	return domain.AuditEvent{
		ID:           r.ID,
		InspectionID: r.InspectionID,
		Sequence:     uint64(r.Sequence),
		Action:       domain.AuditAction(r.Action),
		PerformedBy:  r.PerformedBy,
		Details:      r.Details,
		Timestamp:    r.Timestamp.UTC(),
		PrevHash:     r.PrevHash,
		Hash:         r.Hash,
	}
}

// Sink appends audit events to a Mongo collection.
type Sink struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// Connect dials uri, ensures indexes, and returns a sink on database db.
func Connect(ctx context.Context, uri, db string) (*Sink, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	if db == "" {
		db = DefaultDatabase
	}
	s := &Sink{client: client, collection: client.Database(db).Collection(Collection)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "inspection_id", Value: 1}, {Key: "chain_index", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("inspection_chain"),
	})
	if err != nil {
		return fmt.Errorf("create audit index: %w", err)
	}
	return nil
}

// AppendAudit implements domain.AuditSink.
func (s *Sink) AppendAudit(ctx context.Context, events []domain.AuditEvent) error {
	order, groups := domain.GroupAuditEvents(events)
	for _, inspectionID := range order {
		if err := s.appendChain(ctx, inspectionID, groups[inspectionID]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) appendChain(ctx context.Context, inspectionID string, events []domain.AuditEvent) error {
	fresh, err := s.filterStored(ctx, events)
	if err != nil || len(fresh) == 0 {
		return err
	}
	var head record
	prevHash, nextIndex := "", int64(0)
	err = s.collection.FindOne(ctx,
		bson.M{"inspection_id": inspectionID},
		options.FindOne().SetSort(bson.D{{Key: "chain_index", Value: -1}}),
	).Decode(&head)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
	case err != nil:
		return fmt.Errorf("read chain head for %s: %w", inspectionID, err)
	default:
		prevHash, nextIndex = head.Hash, head.ChainIndex+1
	}
	linked := domain.ChainAuditEvents(prevHash, fresh)
	docs := make([]any, len(linked))
	for i, e := range linked {
		docs[i] = toRecord(e, nextIndex+int64(i))
	}
	if _, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("append audit for %s: %w", inspectionID, ErrChainConflict)
		}
		return fmt.Errorf("append audit for %s: %w", inspectionID, err)
	}
	return nil
}

func (s *Sink) filterStored(ctx context.Context, events []domain.AuditEvent) ([]domain.AuditEvent, error) {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	cursor, err := s.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("check audit ids: %w", err)
	}
	defer cursor.Close(ctx)
	stored := make(map[string]struct{})
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode audit id: %w", err)
		}
		stored[doc.ID] = struct{}{}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("check audit ids: %w", err)
	}
	out := make([]domain.AuditEvent, 0, len(events))
	for _, e := range events {
		if _, dup := stored[e.ID]; dup {
			continue
		}
		stored[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out, nil
}

// ListAudit implements domain.AuditSink.
func (s *Sink) ListAudit(ctx context.Context, inspectionID string) ([]domain.AuditEvent, error) {
	cursor, err := s.collection.Find(ctx,
		bson.M{"inspection_id": inspectionID},
		options.Find().SetSort(bson.D{{Key: "chain_index", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer cursor.Close(ctx)
	var records []record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode audit: %w", err)
	}
	out := make([]domain.AuditEvent, len(records))
	for i, r := range records {
		out[i] = r.event()
	}
	return out, nil
}

// Close disconnects the client.
func (s *Sink) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }
