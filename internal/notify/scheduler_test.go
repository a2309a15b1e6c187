package notify_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing-matrix/internal/events"
	"github.com/noah-isme/toko-pricing-matrix/internal/notify"
	"github.com/noah-isme/toko-pricing-matrix/internal/queue"
)

type taskRecorder struct {
	tasks []queue.Task
}

func (r *taskRecorder) Enqueue(_ context.Context, t queue.Task) error {
	r.tasks = append(r.tasks, t)
	return nil
}

func TestSchedulerQueuesOneDeliveryPerEndpoint(t *testing.T) {
	q := &taskRecorder{}
	s := notify.Scheduler{
		Endpoints:   notify.EndpointsFrom([]string{"https://a.example/hook", "https://b.example/hook"}, "k"),
		Queue:       q,
		MaxAttempts: 4,
	}
	ev := sampleEvent()
	require.NoError(t, s.Notify(context.Background(), ev))
	require.Len(t, q.tasks, 2)

	var del notify.Delivery
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload, &del))
	require.Equal(t, "https://a.example/hook", del.URL)
	require.Equal(t, ev.ID, del.Event.ID)
	require.Equal(t, notify.TaskKind, q.tasks[0].Kind)
	require.Equal(t, 4, q.tasks[0].MaxAttempts)
	require.NotEqual(t, q.tasks[0].IdempotencyKey, q.tasks[1].IdempotencyKey)
	require.NotContains(t, string(q.tasks[0].Payload), `"k"`)
}

func TestSchedulerIgnoresTopicsThatKeepPrices(t *testing.T) {
	q := &taskRecorder{}
	s := notify.Scheduler{Endpoints: notify.EndpointsFrom([]string{"https://a.example/hook"}, "k"), Queue: q}
	ev := sampleEvent()
	ev.Topic = events.TopicMatrixIngestFailed
	require.NoError(t, s.Notify(context.Background(), ev))
	require.Empty(t, q.tasks)
}
