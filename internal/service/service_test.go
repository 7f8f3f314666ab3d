package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/phi-guard/internal/logger"
	"github.com/raaihank/phi-guard/internal/privacy"
	"github.com/raaihank/phi-guard/internal/store"
)

const sample = "Patient John Smith, DOB: 01/02/1990, SSN: 123-45-6789"

type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (r *recordingSink) Record(event AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) last() AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type failingStore struct {
	store.MappingStore
	err error
}

func (f failingStore) Put(context.Context, *privacy.MappingRecord) error { return f.err }

func (f failingStore) Get(context.Context, privacy.OwnerScope, string) (*privacy.MappingRecord, error) {
	return nil, f.err
}

func testPolicy() privacy.Policy {
	categories := make(map[privacy.Category]bool)
	for _, c := range privacy.AllCategories {
		categories[c] = true
	}
	return privacy.Policy{
		Mode:       privacy.ModeAuto,
		Categories: categories,
		Reidentification: privacy.ReidentificationPolicy{
			Allowed:         true,
			MappingTTLHours: 1,
		},
	}
}

func newTestService(mappings store.MappingStore, sink AuditSink) *Service {
	return New(nil, mappings, logger.NewNop(), Options{OpTimeout: time.Second, Audit: sink})
}

func TestSanitizeAndReidentify(t *testing.T) {
	ctx := context.Background()
	owner := privacy.OwnerScope{TenantID: "clinic-a", SessionID: "s1"}
	sink := &recordingSink{}
	svc := newTestService(store.NewMemoryStore(nil), sink)

	outcome, err := svc.Sanitize(ctx, owner, sample, testPolicy())
	require.NoError(t, err)
	assert.True(t, outcome.Persisted)
	assert.NotEmpty(t, outcome.Result.MappingID)
	assert.NotContains(t, outcome.Result.SanitizedText, "John Smith")
	assert.NotContains(t, outcome.Result.SanitizedText, "123-45-6789")

	event := sink.last()
	assert.Equal(t, AuditRedaction, event.Action)
	assert.Equal(t, len(outcome.Result.Matches), event.Total)
	assert.Equal(t, 1, event.Counts[privacy.CategorySSN])

	restored, err := svc.Reidentify(ctx, owner, outcome.Result.MappingID, outcome.Result.SanitizedText, testPolicy(), false)
	require.NoError(t, err)
	assert.Equal(t, sample, restored.OriginalText)
	assert.Len(t, restored.Matches, len(outcome.Result.Matches))
	assert.Equal(t, AuditReidentification, sink.last().Action)

	t.Run("Repeatable", func(t *testing.T) {
		again, err := svc.Reidentify(ctx, owner, outcome.Result.MappingID, outcome.Result.SanitizedText, testPolicy(), false)
		require.NoError(t, err)
		assert.Equal(t, sample, again.OriginalText)
	})

	t.Run("ForeignOwnerGetsVerbatim", func(t *testing.T) {
		other := privacy.OwnerScope{TenantID: "clinic-b", SessionID: "s1"}
		res, err := svc.Reidentify(ctx, other, outcome.Result.MappingID, outcome.Result.SanitizedText, testPolicy(), false)
		require.NoError(t, err)
		assert.Equal(t, outcome.Result.SanitizedText, res.OriginalText)
		assert.Empty(t, res.Matches)
	})

	t.Run("UnknownMappingGetsVerbatim", func(t *testing.T) {
		res, err := svc.Reidentify(ctx, owner, "does-not-exist", outcome.Result.SanitizedText, testPolicy(), false)
		require.NoError(t, err)
		assert.Equal(t, outcome.Result.SanitizedText, res.OriginalText)
	})

	t.Run("ExpiredMappingGetsVerbatim", func(t *testing.T) {
		mem := store.NewMemoryStore(nil)
		svc := newTestService(mem, nil)
		out, err := svc.Sanitize(ctx, owner, sample, testPolicy())
		require.NoError(t, err)

		svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		res, err := svc.Reidentify(ctx, owner, out.Result.MappingID, out.Result.SanitizedText, testPolicy(), false)
		require.NoError(t, err)
		assert.Equal(t, out.Result.SanitizedText, res.OriginalText)
	})
}

func TestSanitizeWithoutMatches(t *testing.T) {
	sink := &recordingSink{}
	mem := store.NewMemoryStore(nil)
	svc := newTestService(mem, sink)

	outcome, err := svc.Sanitize(context.Background(), privacy.OwnerScope{TenantID: "t"}, "no sensitive data here", testPolicy())
	require.NoError(t, err)
	assert.Equal(t, "no sensitive data here", outcome.Result.SanitizedText)
	assert.Empty(t, outcome.Result.MappingID)
	assert.False(t, outcome.Persisted)
	assert.Equal(t, 0, mem.Len())
	assert.Empty(t, sink.events)
}

func TestSanitizeDisabledMode(t *testing.T) {
	policy := testPolicy()
	policy.Mode = privacy.ModeDisabled

	svc := newTestService(store.NewMemoryStore(nil), nil)
	outcome, err := svc.Sanitize(context.Background(), privacy.OwnerScope{TenantID: "t"}, sample, policy)
	require.NoError(t, err)
	assert.Equal(t, sample, outcome.Result.SanitizedText)
	assert.Empty(t, outcome.Result.Matches)
}

func TestSanitizeWhenReidentificationDisallowed(t *testing.T) {
	policy := testPolicy()
	policy.Reidentification.Allowed = false

	mem := store.NewMemoryStore(nil)
	svc := newTestService(mem, nil)

	outcome, err := svc.Sanitize(context.Background(), privacy.OwnerScope{TenantID: "t"}, sample, policy)
	require.NoError(t, err)
	assert.NotEqual(t, sample, outcome.Result.SanitizedText)
	assert.Empty(t, outcome.Result.MappingID)
	assert.NotEmpty(t, outcome.Result.Matches)
	assert.False(t, outcome.Persisted)
	assert.Equal(t, ReasonReidentificationNotAllowed, outcome.Reason)
	assert.Equal(t, 0, mem.Len())
}

func TestSanitizeStoreFailure(t *testing.T) {
	storeErr := errors.New("connection refused")
	sink := &recordingSink{}
	svc := newTestService(failingStore{err: storeErr}, sink)

	outcome, err := svc.Sanitize(context.Background(), privacy.OwnerScope{TenantID: "t"}, sample, testPolicy())
	require.Error(t, err)
	require.NotNil(t, outcome)

	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.True(t, perr.Retryable())
	assert.ErrorIs(t, err, storeErr)
	assert.Equal(t, outcome.Result.MappingID, perr.MappingID)

	assert.False(t, outcome.Persisted)
	assert.Equal(t, ReasonStoreUnavailable, outcome.Reason)
	assert.NotContains(t, outcome.Result.SanitizedText, "123-45-6789")
	assert.False(t, sink.last().Persisted)
}

func TestSanitizeMappingRejected(t *testing.T) {
	policy := testPolicy()
	policy.Reidentification.MappingTTLHours = 0

	mem := store.NewMemoryStore(nil)
	svc := newTestService(mem, nil)

	outcome, err := svc.Sanitize(context.Background(), privacy.OwnerScope{TenantID: "t"}, sample, policy)
	require.Error(t, err)
	require.NotNil(t, outcome)

	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.False(t, perr.Retryable())
	assert.ErrorIs(t, err, privacy.ErrInvalidTTL)

	assert.False(t, outcome.Persisted)
	assert.Equal(t, ReasonMappingRejected, outcome.Reason)
	assert.NotContains(t, outcome.Result.SanitizedText, "123-45-6789")
	assert.Equal(t, 0, mem.Len())
}

func TestReidentifyPolicy(t *testing.T) {
	ctx := context.Background()
	owner := privacy.OwnerScope{TenantID: "t", SessionID: "s"}
	svc := newTestService(store.NewMemoryStore(nil), nil)

	t.Run("NotAllowed", func(t *testing.T) {
		policy := testPolicy()
		policy.Reidentification.Allowed = false
		_, err := svc.Reidentify(ctx, owner, "id", "[PHI_NAME_1]", policy, true)
		assert.ErrorIs(t, err, ErrReidentificationNotAllowed)
	})

	t.Run("ApprovalRequired", func(t *testing.T) {
		policy := testPolicy()
		policy.Reidentification.RequiresApproval = true

		_, err := svc.Reidentify(ctx, owner, "id", "[PHI_NAME_1]", policy, false)
		assert.ErrorIs(t, err, ErrApprovalRequired)

		res, err := svc.Reidentify(ctx, owner, "id", "[PHI_NAME_1]", policy, true)
		require.NoError(t, err)
		assert.Equal(t, "[PHI_NAME_1]", res.OriginalText)
	})

	t.Run("StoreErrorPropagates", func(t *testing.T) {
		storeErr := errors.New("timeout")
		svc := newTestService(failingStore{err: storeErr}, nil)
		_, err := svc.Reidentify(ctx, owner, "id", "[PHI_NAME_1]", testPolicy(), false)
		assert.ErrorIs(t, err, storeErr)
	})

	t.Run("EmptyMappingID", func(t *testing.T) {
		res, err := svc.Reidentify(ctx, owner, "", "[PHI_NAME_1] text", testPolicy(), false)
		require.NoError(t, err)
		assert.Equal(t, "[PHI_NAME_1] text", res.OriginalText)
	})
}

func TestFreshMappingIDPerCall(t *testing.T) {
	svc := newTestService(store.NewMemoryStore(nil), nil)
	owner := privacy.OwnerScope{TenantID: "t", SessionID: "s"}

	first, err := svc.Sanitize(context.Background(), owner, sample, testPolicy())
	require.NoError(t, err)
	second, err := svc.Sanitize(context.Background(), owner, sample, testPolicy())
	require.NoError(t, err)

	assert.Equal(t, first.Result.SanitizedText, second.Result.SanitizedText)
	assert.NotEqual(t, first.Result.MappingID, second.Result.MappingID)
}

func TestMultiSink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	MultiSink{a, nil, b}.Record(AuditEvent{Action: AuditRedaction, Total: 2})
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}
