package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/phi-guard/internal/config"
	"github.com/raaihank/phi-guard/internal/privacy"
)

// ErrNotFound is returned for ids that are unknown, expired, or owned by another scope.
// Callers cannot tell the three apart.
var ErrNotFound = errors.New("mapping not found")

// MappingStore persists mapping records keyed by id and owner.
// Implementations must be safe for concurrent use.
type MappingStore interface {
	// Put stores a new record. Records are immutable once written.
	Put(ctx context.Context, record *privacy.MappingRecord) error

	// Get returns the live record for id if it belongs to owner.
	Get(ctx context.Context, owner privacy.OwnerScope, id string) (*privacy.MappingRecord, error)

	// Close releases connections or file handles.
	Close() error
}

// Purger is implemented by stores that need expired records removed explicitly.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// New opens the store selected by cfg.Driver
func New(cfg config.StoreConfig, logger *zap.Logger) (MappingStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(logger), nil
	case "redis":
		return NewRedisStore(cfg.Redis, cfg.KeyPrefix, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres, logger)
	case "bolt":
		return NewBoltStore(cfg.Bolt.Path, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// RunPurger removes expired records every interval until ctx is done.
// Stores without a Purger are left alone.
func RunPurger(ctx context.Context, s MappingStore, interval time.Duration, logger *zap.Logger) {
	purger, ok := s.(Purger)
	if !ok || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := purger.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("Failed to purge expired mappings", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("Purged expired mappings", zap.Int64("removed", removed))
			}
		}
	}
}

// live returns the record if it is unexpired and owned by owner
func live(record *privacy.MappingRecord, owner privacy.OwnerScope, now time.Time) (*privacy.MappingRecord, error) {
	if record == nil || !record.OwnedBy(owner) || record.Expired(now) {
		return nil, ErrNotFound
	}
	return record, nil
}

// maskURL hides credentials in connection strings before they are logged
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
