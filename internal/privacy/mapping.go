package privacy

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNothingToMap is returned when a sanitization result redacted nothing
	ErrNothingToMap = errors.New("sanitization result has no matches")
	// ErrInvalidTTL is returned for a non-positive mapping lifetime
	ErrInvalidTTL = errors.New("mapping TTL must be positive")
)

// TTLFromHours converts a configured number of hours into a duration
func TTLFromHours(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}

// NewMappingRecord builds the persistable record for a sanitization result
func NewMappingRecord(owner OwnerScope, result SanitizationResult, ttl time.Duration, now time.Time) (*MappingRecord, error) {
	if result.MappingID == "" || len(result.Matches) == 0 {
		return nil, ErrNothingToMap
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	mappings := make(map[string]string, len(result.Matches))
	for _, m := range result.Matches {
		if _, dup := mappings[m.Placeholder]; dup {
			return nil, fmt.Errorf("duplicate placeholder %s in result", m.Placeholder)
		}
		mappings[m.Placeholder] = m.Original
	}

	return &MappingRecord{
		ID:        result.MappingID,
		Owner:     owner,
		Mappings:  mappings,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// Expired reports whether the record is past its lifetime at the given instant
func (r *MappingRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// OwnedBy reports whether the record belongs to the given scope
func (r *MappingRecord) OwnedBy(owner OwnerScope) bool {
	return r.Owner == owner
}

// Validate checks a record read back from storage
func (r *MappingRecord) Validate() error {
	if r.ID == "" {
		return errors.New("mapping record has no id")
	}
	if !r.ExpiresAt.After(r.CreatedAt) {
		return fmt.Errorf("mapping record %s expires before it was created", r.ID)
	}
	for placeholder := range r.Mappings {
		if _, _, err := ParsePlaceholder(placeholder); err != nil {
			return fmt.Errorf("mapping record %s: %w", r.ID, err)
		}
	}
	return nil
}
