package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/phi-guard/internal/logger"
	"github.com/raaihank/phi-guard/internal/privacy"
	"github.com/raaihank/phi-guard/internal/store"
)

// Options tunes a Service
type Options struct {
	// OpTimeout bounds each store call. Zero means the caller's context only.
	OpTimeout time.Duration
	Audit     AuditSink
}

// Service ties redaction to mapping persistence and re-identification
type Service struct {
	redactor     *privacy.Redactor
	reidentifier *privacy.Reidentifier
	mappings     store.MappingStore
	audit        AuditSink
	logger       *logger.Logger
	opTimeout    time.Duration
	now          func() time.Time
}

// SanitizeOutcome is the result of Service.Sanitize
type SanitizeOutcome struct {
	Result privacy.SanitizationResult
	// Persisted is true when the mapping was written and can be re-identified
	Persisted bool
	// Reason says why a result with matches was not persisted
	Reason string
}

// Reasons a redacted result carries no stored mapping
const (
	ReasonReidentificationNotAllowed = "reidentification_not_allowed"
	ReasonMappingRejected            = "mapping_rejected"
	ReasonStoreUnavailable           = "store_unavailable"
)

// New creates a service. A nil redactor uses the default catalog.
func New(redactor *privacy.Redactor, mappings store.MappingStore, log *logger.Logger, opts Options) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	if redactor == nil {
		redactor = privacy.NewRedactor(privacy.NewDetector(nil, log))
	}
	if mappings == nil {
		mappings = store.NewMemoryStore(log.Logger)
	}

	audit := opts.Audit
	if audit == nil {
		audit = nopSink{}
	}

	s := &Service{
		redactor:  redactor,
		mappings:  mappings,
		audit:     audit,
		logger:    log.WithComponent("service"),
		opTimeout: opts.OpTimeout,
		now:       time.Now,
	}
	s.reidentifier = privacy.NewReidentifierWithClock(func() time.Time { return s.now() })
	return s
}

// Catalog returns the rule catalog used for detection
func (s *Service) Catalog() *privacy.Catalog {
	return s.redactor.Detector().Catalog()
}

// Sanitize redacts text and persists its mapping when the policy allows re-identification.
// A *PersistenceError comes back together with a usable outcome.
func (s *Service) Sanitize(ctx context.Context, owner privacy.OwnerScope, text string, policy privacy.Policy) (*SanitizeOutcome, error) {
	result := s.redactor.Sanitize(text, policy)
	outcome := &SanitizeOutcome{Result: result}

	if len(result.Matches) == 0 {
		return outcome, nil
	}

	// A mapping that can never be reversed is not worth keeping.
	if !policy.Reidentification.Allowed {
		outcome.Result.MappingID = ""
		outcome.Reason = ReasonReidentificationNotAllowed
		s.recordRedaction(owner, outcome)
		return outcome, nil
	}

	ttl := privacy.TTLFromHours(policy.Reidentification.MappingTTLHours)
	record, err := privacy.NewMappingRecord(owner, result, ttl, s.now())
	if err != nil {
		outcome.Reason = ReasonMappingRejected
		return s.persistFailed(owner, outcome, err, false)
	}

	putCtx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := s.mappings.Put(putCtx, record); err != nil {
		outcome.Reason = ReasonStoreUnavailable
		return s.persistFailed(owner, outcome, err, true)
	}

	outcome.Persisted = true
	s.recordRedaction(owner, outcome)

	return outcome, nil
}

func (s *Service) persistFailed(owner privacy.OwnerScope, outcome *SanitizeOutcome, err error, retryable bool) (*SanitizeOutcome, error) {
	s.logger.Warn("Failed to persist PHI mapping",
		zap.String("tenant_id", owner.TenantID),
		zap.String("mapping_id", outcome.Result.MappingID),
		zap.String("reason", outcome.Reason),
		zap.Error(err),
	)
	s.recordRedaction(owner, outcome)
	return outcome, &PersistenceError{MappingID: outcome.Result.MappingID, Err: err, retryable: retryable}
}

// Reidentify restores placeholders from the stored mapping.
// Unknown, expired, and foreign mappings all restore nothing; the caller cannot tell which.
func (s *Service) Reidentify(ctx context.Context, owner privacy.OwnerScope, mappingID, text string, policy privacy.Policy, approved bool) (*privacy.ReidentificationResult, error) {
	if !policy.Reidentification.Allowed {
		return nil, ErrReidentificationNotAllowed
	}
	if policy.Reidentification.RequiresApproval && !approved {
		return nil, ErrApprovalRequired
	}

	var record *privacy.MappingRecord
	if mappingID != "" {
		getCtx, cancel := s.storeContext(ctx)
		defer cancel()

		found, err := s.mappings.Get(getCtx, owner, mappingID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.logger.Debug("Mapping not available", zap.String("mapping_id", mappingID))
		case err != nil:
			return nil, fmt.Errorf("failed to load mapping: %w", err)
		default:
			record = found
		}
	}

	result := s.reidentifier.Reidentify(text, record)

	s.audit.Record(AuditEvent{
		Action:    AuditReidentification,
		TenantID:  owner.TenantID,
		SessionID: owner.SessionID,
		MappingID: mappingID,
		Counts:    restoredCounts(result.Matches),
		Total:     len(result.Matches),
		Persisted: record != nil,
		Timestamp: s.now(),
	})

	return &result, nil
}

func (s *Service) recordRedaction(owner privacy.OwnerScope, outcome *SanitizeOutcome) {
	s.audit.Record(AuditEvent{
		Action:    AuditRedaction,
		TenantID:  owner.TenantID,
		SessionID: owner.SessionID,
		MappingID: outcome.Result.MappingID,
		Counts:    privacy.CategoryCounts(outcome.Result.Matches),
		Total:     len(outcome.Result.Matches),
		Persisted: outcome.Persisted,
		Timestamp: s.now(),
	})
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout > 0 {
		return context.WithTimeout(ctx, s.opTimeout)
	}
	return context.WithCancel(ctx)
}

func restoredCounts(matches []privacy.RestoredMatch) map[privacy.Category]int {
	counts := make(map[privacy.Category]int)
	for _, m := range matches {
		counts[m.Category]++
	}
	return counts
}
