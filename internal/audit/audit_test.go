package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escorte/pkg/requestcontext"
)

func TestRecorderToWorkerRoundTrip(t *testing.T) {
	store := NewInMemoryStore()
	inbox := make(chan Event, 8)
	recorder := NewRecorder(inbox, nil)
	worker := NewWorker(store, inbox, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(ctx)
	}()

	when := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	recordCtx := requestcontext.WithTime(context.Background(), when)
	recordCtx = requestcontext.WithAgent(recordCtx, 42, "AGENT")
	recordCtx = requestcontext.WithClientMetadata(recordCtx, "10.0.0.5", "Firefox on Linux")
	recorder.Record(recordCtx, "mission_order.create", "mission_order", 1, "OM-2026-00001")

	require.Eventually(t, func() bool {
		events, err := store.ListBySubject(context.Background(), "mission_order", 1)
		return err == nil && len(events) == 1
	}, time.Second, 10*time.Millisecond)

	events, err := store.ListBySubject(context.Background(), "mission_order", 1)
	require.NoError(t, err)
	e := events[0]
	assert.Equal(t, "mission_order.create", e.Action)
	assert.Equal(t, int64(42), e.ActorID)
	assert.Equal(t, "OM-2026-00001", e.Detail)
	assert.Equal(t, "10.0.0.5", e.ClientIP)
	assert.Equal(t, "Firefox on Linux", e.UserAgent)
	assert.True(t, when.Equal(e.OccurredAt))

	cancel()
	<-done
}

func TestRecorderDropsWhenInboxFull(t *testing.T) {
	inbox := make(chan Event, 1)
	recorder := NewRecorder(inbox, nil)
	ctx := context.Background()

	recorder.Record(ctx, "a", "mission_order", 1, "")
	// No worker is draining; the second record must not block.
	recorder.Record(ctx, "b", "mission_order", 2, "")

	require.Len(t, inbox, 1)
	kept := <-inbox
	assert.Equal(t, "a", kept.Action)
}

func TestWorkerStopsOnCancel(t *testing.T) {
	worker := NewWorker(NewInMemoryStore(), make(chan Event), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, worker.Run(ctx), context.Canceled)
}

func TestInMemoryStoreListsNewestFirst(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, Event{Action: "first", Subject: "mission_order", SubjectID: 1}))
	require.NoError(t, store.Append(ctx, Event{Action: "second", Subject: "mission_order", SubjectID: 1}))
	require.NoError(t, store.Append(ctx, Event{Action: "other", Subject: "declaration", SubjectID: 1}))

	events, err := store.ListBySubject(ctx, "mission_order", 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "second", events[0].Action)
	assert.Equal(t, "first", events[1].Action)
}
