package session

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is the volatile backend: a locked map, suitable for tests and
// for serving the control-plane without persistence.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return collect(s.records, filter), nil
}

func (s *MemoryStore) Find(_ context.Context, filter Filter) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return first(s.records, filter), nil
}

func (s *MemoryStore) Upsert(_ context.Context, payload Upsert) (Record, error) {
	if payload.Tenant == "" {
		return Record{}, ErrTenantRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record := materialize(payload)
	s.records[record.Key] = record
	return record, nil
}

func (s *MemoryStore) Purge(_ context.Context, filter Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteMatching(s.records, filter), nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// collect returns matching records sorted by key so that listing order is
// deterministic for a given store state.
func collect(records map[string]Record, filter Filter) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func first(records map[string]Record, filter Filter) *Record {
	matches := collect(records, filter)
	if len(matches) == 0 {
		return nil
	}
	return &matches[0]
}

func deleteMatching(records map[string]Record, filter Filter) int {
	removed := 0
	for key, r := range records {
		if filter.Matches(r) {
			delete(records, key)
			removed++
		}
	}
	return removed
}

func materialize(payload Upsert) Record {
	key := payload.Key
	if key == "" {
		key = uuid.NewString()
	}
	return Record{
		Key:              key,
		Tenant:           payload.Tenant,
		Team:             payload.Team,
		User:             payload.User,
		FlowID:           payload.FlowID,
		NodeID:           payload.NodeID,
		Context:          payload.Context,
		UpdatedAtEpochMS: nowMillis(),
	}
}
