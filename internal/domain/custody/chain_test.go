package custody

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

func buildChain(t *testing.T, n int) []*Event {
	t.Helper()
	tenant, artifact := uuid.New(), uuid.New()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var (
		events   []*Event
		previous values.HashValue
	)
	for i := 0; i < n; i++ {
		e, err := NewEvent(tenant, artifact, EventDownloaded, UserActor(uuid.New()),
			map[string]any{"n": i, "via": "test"}, start.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.NoError(t, e.Seal(previous))
		e.Sequence = values.MustNewSequenceNumber(int64(i + 1))
		previous = e.EventHash
		events = append(events, e)
	}
	return events
}

func TestVerifyChain_Valid(t *testing.T) {
	events := buildChain(t, 4)

	report := VerifyChain(events)
	assert.True(t, report.Valid)
	assert.Equal(t, 4, report.EventsVerified)
	assert.Equal(t, events[3].EventHash.String(), report.HeadHash)
	assert.Empty(t, report.Breaks)

	assert.True(t, VerifyChain(nil).Valid)
}

func TestVerifyChain_DetectsTamperedMetadata(t *testing.T) {
	events := buildChain(t, 3)
	events[1].Metadata["via"] = "edited"

	report := VerifyChain(events)
	require.False(t, report.Valid)
	require.Len(t, report.Breaks, 1)
	assert.Equal(t, BreakTypeHashMismatch, report.Breaks[0].BreakType)
	assert.Equal(t, events[1].ID.String(), report.Breaks[0].EventID)
}

func TestVerifyChain_DetectsRemovedEvent(t *testing.T) {
	events := buildChain(t, 3)
	gapped := []*Event{events[0], events[2]}

	report := VerifyChain(gapped)
	require.False(t, report.Valid)
	assert.Equal(t, BreakTypePreviousMismatch, report.Breaks[0].BreakType)
	assert.Equal(t, events[0].EventHash.String(), report.Breaks[0].ExpectedHash)
}

func TestVerifyChain_DetectsTimestampReverse(t *testing.T) {
	events := buildChain(t, 2)
	events[1].OccurredAt = events[0].OccurredAt.Add(-time.Minute)

	report := VerifyChain(events)
	require.False(t, report.Valid)

	var types []BreakType
	for _, b := range report.Breaks {
		types = append(types, b.BreakType)
	}
	assert.Contains(t, types, BreakTypeTimestampReverse)
	assert.Contains(t, types, BreakTypeHashMismatch)
}

func TestNewEvent_Validation(t *testing.T) {
	tenant, artifact := uuid.New(), uuid.New()
	now := time.Now()

	_, err := NewEvent(tenant, artifact, EventKind("EXPLODED"), UserActor(uuid.New()), nil, now)
	assert.Error(t, err)

	_, err = NewEvent(tenant, artifact, EventCreated, Actor{Type: "robot", ID: "x"}, nil, now)
	assert.Error(t, err)

	_, err = NewEvent(tenant, artifact, EventCreated, UserActor(uuid.New()), map[string]any{"ratio": 0.5}, now)
	assert.Error(t, err)

	e, err := NewEvent(tenant, artifact, EventCreated, SystemActor("uploader"), nil, now)
	require.NoError(t, err)
	assert.NotNil(t, e.Metadata)
	assert.Equal(t, now.UTC().Truncate(time.Microsecond), e.OccurredAt)
}

func TestSortEvents_TiesBrokenBySequence(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &Event{ID: uuid.New(), OccurredAt: ts, Sequence: values.MustNewSequenceNumber(5)}
	b := &Event{ID: uuid.New(), OccurredAt: ts, Sequence: values.MustNewSequenceNumber(2)}
	c := &Event{ID: uuid.New(), OccurredAt: ts.Add(-time.Second), Sequence: values.MustNewSequenceNumber(9)}

	events := []*Event{a, b, c}
	SortEvents(events)
	assert.Equal(t, []*Event{c, b, a}, events)
}
