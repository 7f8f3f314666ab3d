package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/phi-guard/internal/config"
	"github.com/raaihank/phi-guard/internal/privacy"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS phi_mappings (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	mappings    JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_phi_mappings_expires_at ON phi_mappings (expires_at);`

// PostgresStore keeps records in a phi_mappings table
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time
}

type mappingRow struct {
	ID        string    `db:"id"`
	TenantID  string    `db:"tenant_id"`
	SessionID string    `db:"session_id"`
	Mappings  []byte    `db:"mappings"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
}

// NewPostgresStore connects to the database and creates the table if needed
func NewPostgresStore(cfg config.PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	s := &PostgresStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.initialize(); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Postgres mapping store initialized",
		zap.String("database_url", maskURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return s, nil
}

func (s *PostgresStore) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Put inserts the record. Ids are unique; a second insert with the same id fails.
func (s *PostgresStore) Put(ctx context.Context, record *privacy.MappingRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	mappings, err := json.Marshal(record.Mappings)
	if err != nil {
		return fmt.Errorf("failed to marshal mappings: %w", err)
	}

	query := `
		INSERT INTO phi_mappings (id, tenant_id, session_id, mappings, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		record.Owner.TenantID,
		record.Owner.SessionID,
		mappings,
		record.CreatedAt,
		record.ExpiresAt,
	)
	if err != nil {
		s.logger.Error("Failed to insert mapping", zap.String("mapping_id", record.ID), zap.Error(err))
		return fmt.Errorf("failed to insert mapping: %w", err)
	}

	return nil
}

// Get selects a live record owned by owner
func (s *PostgresStore) Get(ctx context.Context, owner privacy.OwnerScope, id string) (*privacy.MappingRecord, error) {
	query := `
		SELECT id, tenant_id, session_id, mappings, created_at, expires_at
		FROM phi_mappings
		WHERE id = $1 AND tenant_id = $2 AND session_id = $3 AND expires_at > $4`

	var row mappingRow
	err := s.db.GetContext(ctx, &row, query, id, owner.TenantID, owner.SessionID, s.now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping: %w", err)
	}

	record := &privacy.MappingRecord{
		ID:        row.ID,
		Owner:     privacy.OwnerScope{TenantID: row.TenantID, SessionID: row.SessionID},
		CreatedAt: row.CreatedAt,
		ExpiresAt: row.ExpiresAt,
	}
	if err := json.Unmarshal(row.Mappings, &record.Mappings); err != nil {
		return nil, fmt.Errorf("failed to decode mapping %s: %w", id, err)
	}

	return live(record, owner, s.now())
}

// PurgeExpired deletes rows past their expiry
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM phi_mappings WHERE expires_at <= $1", s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge mappings: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		return 0, nil
	}
	return removed, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
