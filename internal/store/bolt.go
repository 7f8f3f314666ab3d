package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/raaihank/phi-guard/internal/privacy"
)

const boltBucket = "phi_mappings"

// BoltStore keeps records in an embedded bbolt file. Entries survive restarts.
type BoltStore struct {
	db     *bolt.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewBoltStore opens (or creates) the database at path and ensures the bucket exists
func NewBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create bolt directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bolt bucket: %w", err)
	}

	logger.Info("Bolt mapping store opened", zap.String("path", path))
	return &BoltStore{db: db, logger: logger, now: time.Now}, nil
}

// Put writes the record as JSON under its id
func (s *BoltStore) Put(ctx context.Context, record *privacy.MappingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", boltBucket)
		}
		if b.Get([]byte(record.ID)) != nil {
			return fmt.Errorf("mapping %s already exists", record.ID)
		}
		return b.Put([]byte(record.ID), data)
	})
}

// Get reads and decodes a record, then checks owner and expiry
func (s *BoltStore) Get(ctx context.Context, owner privacy.OwnerScope, id string) (*privacy.MappingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(id)); v != nil {
			// v is only valid inside the transaction
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping: %w", err)
	}
	if data == nil {
		return nil, ErrNotFound
	}

	var record privacy.MappingRecord
	if err := json.Unmarshal(data, &record); err != nil {
		s.logger.Error("Failed to unmarshal stored mapping", zap.String("mapping_id", id), zap.Error(err))
		return nil, ErrNotFound
	}

	return live(&record, owner, s.now())
}

// PurgeExpired deletes every expired record
func (s *BoltStore) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()
	var removed int64

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		if b == nil {
			return nil
		}

		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var record privacy.MappingRecord
			if err := json.Unmarshal(v, &record); err != nil || record.Expired(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge mappings: %w", err)
	}
	return removed, nil
}

// Close closes the database file
func (s *BoltStore) Close() error {
	return s.db.Close()
}
