package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore is the durable backend: the same locked map as MemoryStore used
// as a write-through cache, with the whole record set rewritten to a single
// JSON document on every effective mutation. The lock is held across the
// persistence write so readers never observe a partially written state;
// that puts file I/O on the mutation path, which is acceptable at harness
// volumes and explicitly not a production durability guarantee.
type FileStore struct {
	path    string
	mu      sync.Mutex
	records map[string]Record
}

// NewFileStore loads the store from path, bootstrapping an empty document
// when the file does not exist. An unparsable file is a load error; the data
// is never silently discarded.
func NewFileStore(path string) (*FileStore, error) {
	records, err := loadRecords(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, records: records}, nil
}

func loadRecords(path string) (map[string]Record, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create session store dir: %w", err)
		}
		if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
			return nil, fmt.Errorf("bootstrap session store %s: %w", path, err)
		}
		return make(map[string]Record), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session store %s: %w", path, err)
	}

	records := make(map[string]Record)
	if len(raw) == 0 {
		return records, nil
	}
	var rows []Record
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("invalid JSON in session store %s: %w", path, err)
	}
	for _, row := range rows {
		records[row.Key] = row
	}
	return records, nil
}

// persist is called with the lock held.
func (s *FileStore) persist() error {
	rows := collect(s.records, Filter{})
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create session store dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write session store %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) List(_ context.Context, filter Filter) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return collect(s.records, filter), nil
}

func (s *FileStore) Find(_ context.Context, filter Filter) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return first(s.records, filter), nil
}

func (s *FileStore) Upsert(_ context.Context, payload Upsert) (Record, error) {
	if payload.Tenant == "" {
		return Record{}, ErrTenantRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record := materialize(payload)
	s.records[record.Key] = record
	if err := s.persist(); err != nil {
		return Record{}, err
	}
	return record, nil
}

func (s *FileStore) Purge(_ context.Context, filter Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := deleteMatching(s.records, filter)
	if removed > 0 {
		if err := s.persist(); err != nil {
			return 0, err
		}
	}
	return removed, nil
}

func (s *FileStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return nil
	}
	delete(s.records, key)
	return s.persist()
}
