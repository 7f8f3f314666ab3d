package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/phi-guard/internal/privacy"
)

// MemoryStore keeps records in process memory. Used in tests and single-node setups.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*privacy.MappingRecord
	logger  *zap.Logger
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		records: make(map[string]*privacy.MappingRecord),
		logger:  logger,
		now:     time.Now,
	}
}

// Put stores a copy of the record
func (s *MemoryStore) Put(ctx context.Context, record *privacy.MappingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("mapping %s already exists", record.ID)
	}
	s.records[record.ID] = copyRecord(record)
	return nil
}

// Get returns a copy of the live record
func (s *MemoryStore) Get(ctx context.Context, owner privacy.OwnerScope, id string) (*privacy.MappingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	record := s.records[id]
	s.mu.RUnlock()

	record, err := live(record, owner, s.now())
	if err != nil {
		return nil, err
	}
	return copyRecord(record), nil
}

// PurgeExpired drops every expired record
func (s *MemoryStore) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, record := range s.records {
		if record.Expired(now) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored records, expired ones included
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

func copyRecord(r *privacy.MappingRecord) *privacy.MappingRecord {
	c := *r
	c.Mappings = make(map[string]string, len(r.Mappings))
	for k, v := range r.Mappings {
		c.Mappings[k] = v
	}
	return &c
}
