package custody

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/evidence-vault/internal/domain/clock"
	"github.com/davidleathers/evidence-vault/internal/domain/custody"
	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/testutil/mocks"
)

func newTestService(t *testing.T) (*Service, *mocks.CustodyStore, *clock.MockClock) {
	t.Helper()
	store := mocks.NewCustodyStore()
	clk := clock.NewMock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewService(store, clk, zaptest.NewLogger(t), nil), store, clk
}

func TestService_RecordChainsEvents(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()
	tenant, artifact, user := uuid.New(), uuid.New(), uuid.New()

	first, err := svc.Record(ctx, tenant, artifact, custody.EventCreated, custody.UserActor(user), map[string]any{"version": 1})
	require.NoError(t, err)
	assert.True(t, first.PreviousHash.IsEmpty())

	clk.Advance(time.Minute)
	second, err := svc.Record(ctx, tenant, artifact, custody.EventApproved, custody.UserActor(user), nil)
	require.NoError(t, err)
	assert.True(t, second.PreviousHash.Equal(first.EventHash))

	history, err := svc.History(ctx, tenant, artifact)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, custody.EventCreated, history[0].Kind)
	assert.Equal(t, custody.EventApproved, history[1].Kind)

	report, err := svc.VerifyHistory(ctx, tenant, artifact)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 2, report.EventsVerified)
	assert.Equal(t, second.EventHash.String(), report.HeadHash)
}

func TestService_RecordRetriesOnFork(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	tenant, artifact := uuid.New(), uuid.New()

	store.ForkOnce = true
	event, err := svc.Record(ctx, tenant, artifact, custody.EventCreated, custody.SystemActor("test"), nil)
	require.NoError(t, err)
	assert.False(t, event.Sequence.IsZero())
	assert.Len(t, store.All(), 1)
}

func TestService_RecordConcurrentAppendsStayLinear(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	tenant, artifact := uuid.New(), uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Record(ctx, tenant, artifact, custody.EventDownloaded, custody.SystemActor("test"), nil)
		}()
	}
	wg.Wait()

	events, err := store.List(ctx, tenant, artifact)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	seen := map[string]bool{}
	for _, e := range events {
		assert.False(t, seen[e.PreviousHash.String()], "two events share a predecessor")
		seen[e.PreviousHash.String()] = true
	}
}

func TestService_RecordRejectsUnknownKind(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Record(context.Background(), uuid.New(), uuid.New(), custody.EventKind("RENAMED"), custody.SystemActor("test"), nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestService_RecordMany(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	tenant := uuid.New()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	require.NoError(t, svc.RecordMany(ctx, tenant, ids, custody.EventIncludedInPack,
		custody.UserActor(uuid.New()), map[string]any{"pack_id": uuid.NewString()}))

	for _, id := range ids {
		assert.Equal(t, []custody.EventKind{custody.EventIncludedInPack}, store.Kinds(id))
	}
}

func TestService_VerifyHistoryDetectsTampering(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	tenant, artifact := uuid.New(), uuid.New()

	_, err := svc.Record(ctx, tenant, artifact, custody.EventCreated, custody.SystemActor("test"), map[string]any{"name": "policy.pdf"})
	require.NoError(t, err)

	// events are held by pointer in the fake, so this edits the stored row
	store.All()[0].Metadata["name"] = "other.pdf"

	report, err := svc.VerifyHistory(ctx, tenant, artifact)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.Len(t, report.Breaks, 1)
	assert.Equal(t, custody.BreakTypeHashMismatch, report.Breaks[0].BreakType)
}
