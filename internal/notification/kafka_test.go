//go:build integration

package notification

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"escorte/pkg/testutil/containers"
)

func TestKafkaNotifierRoundTrip(t *testing.T) {
	rp := containers.NewRedpandaContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const topic = "escorte.notifications"
	notifier, err := NewKafkaNotifier(ctx, []string{rp.Broker}, topic, nil)
	require.NoError(t, err)

	require.NoError(t, notifier.Notify(ctx, 42, "Demande de modification", "mauvaise destination"))
	require.NoError(t, notifier.Notify(ctx, 42, "Demande de modification", "doublon"))
	require.NoError(t, notifier.Close(ctx))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	var messages []Message
	for len(messages) < 2 {
		fetches := consumer.PollFetches(ctx)
		require.NoError(t, fetches.Err())
		fetches.EachRecord(func(r *kgo.Record) {
			// Keyed by recipient so one agent's messages stay ordered.
			assert.Equal(t, "42", string(r.Key))
			var m Message
			require.NoError(t, json.Unmarshal(r.Value, &m))
			messages = append(messages, m)
		})
	}

	require.Len(t, messages, 2)
	assert.Equal(t, int64(42), messages[0].RecipientID)
	assert.Equal(t, "mauvaise destination", messages[0].Body)
	assert.Equal(t, "doublon", messages[1].Body)
	assert.False(t, messages[0].SentAt.IsZero())
}

// Creating the notifier twice against the same topic must not fail; topic
// creation tolerates TOPIC_ALREADY_EXISTS.
func TestKafkaNotifierTopicIdempotent(t *testing.T) {
	rp := containers.NewRedpandaContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const topic = "escorte.notifications"
	first, err := NewKafkaNotifier(ctx, []string{rp.Broker}, topic, nil)
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	second, err := NewKafkaNotifier(ctx, []string{rp.Broker}, topic, nil)
	require.NoError(t, err)
	require.NoError(t, second.Close(ctx))
}
