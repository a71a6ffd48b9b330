//go:build integration

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escorte/pkg/testutil/containers"
)

func TestPostgresStoreAppendAndList(t *testing.T) {
	pc := containers.NewPostgresContainer(t)
	store := NewPostgres(pc.DB)
	ctx := context.Background()

	when := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, Event{
		OccurredAt: when,
		ActorID:    42,
		Action:     "mission_order.create",
		Subject:    "mission_order",
		SubjectID:  1,
		Detail:     "OM-2026-00001",
		ClientIP:   "10.0.0.5",
		UserAgent:  "Firefox on Linux",
	}))
	// Optional columns may be empty.
	require.NoError(t, store.Append(ctx, Event{
		OccurredAt: when.Add(time.Minute),
		ActorID:    7,
		Action:     "mission_order.statut",
		Subject:    "mission_order",
		SubjectID:  1,
	}))

	events, err := store.ListBySubject(ctx, "mission_order", 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "mission_order.statut", events[0].Action)
	assert.Empty(t, events[0].Detail)
	assert.Equal(t, "mission_order.create", events[1].Action)
	assert.Equal(t, "10.0.0.5", events[1].ClientIP)
	assert.True(t, when.Equal(events[1].OccurredAt))

	other, err := store.ListBySubject(ctx, "declaration", 1)
	require.NoError(t, err)
	assert.Empty(t, other)
}
