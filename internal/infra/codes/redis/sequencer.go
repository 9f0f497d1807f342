// Package redis provides a Redis-backed code sequencer shared by every
// process pointing at the same Redis instance.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces counter keys.
const DefaultPrefix = "compliancecore:seq:"

// Sequencer increments one Redis key per scope.
type Sequencer struct {
	client redis.UniversalClient
	prefix string
}

// New wraps client. An empty prefix selects DefaultPrefix.
func New(client redis.UniversalClient, prefix string) *Sequencer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Sequencer{client: client, prefix: prefix}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr string) (*Sequencer, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return New(client, ""), nil
}

func (s *Sequencer) key(scope string) string { return s.prefix + scope }

// Next implements codes.Sequencer with INCR.
func (s *Sequencer) Next(ctx context.Context, scope string) (int64, error) {
	n, err := s.client.Incr(ctx, s.key(scope)).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", s.key(scope), err)
	}
	return n, nil
}

// Close releases the client.
func (s *Sequencer) Close() error { return s.client.Close() }
