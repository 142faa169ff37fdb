package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/murmur/internal/event"
	"github.com/mattjoyce/murmur/internal/message"
)

func TestPublishFollowsTypeChainInSubscriptionOrder(t *testing.T) {
	t.Parallel()

	h := NewHub(8)
	var got []string
	h.Subscribe(event.TypeMessage, func(ev event.Event) { got = append(got, "message") })
	h.Subscribe(event.TypeGroupMessage, func(ev event.Event) { got = append(got, "group") })
	h.Subscribe(event.TypePrivateMessage, func(ev event.Event) { got = append(got, "private") })
	h.Subscribe(event.TypeEvent, func(ev event.Event) { got = append(got, "any") })

	h.Publish(event.NewGroupMessage(1, 2, 3, message.Message{message.Text("hi")}))
	assert.Equal(t, []string{"message", "group", "any"}, got)
}

func TestParentSubscribedFirstRunsFirst(t *testing.T) {
	t.Parallel()

	h := NewHub(8)
	var got []string
	h.Subscribe(event.TypeGroupMessage, func(event.Event) { got = append(got, "group-1") })
	h.Subscribe(event.TypeEvent, func(event.Event) { got = append(got, "any") })
	h.Subscribe(event.TypeGroupMessage, func(event.Event) { got = append(got, "group-2") })

	h.Publish(event.NewGroupMessage(1, 2, 3, message.Message{message.Text("hi")}))
	assert.Equal(t, []string{"group-1", "any", "group-2"}, got)
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	h := NewHub(8)
	n := 0
	cancel := h.Subscribe(event.TypeMessage, func(event.Event) { n++ })
	ev := event.NewPrivateMessage(1, 2, message.Message{message.Text("hi")})
	h.Publish(ev)
	cancel()
	h.Publish(ev)
	assert.Equal(t, 1, n)
}

func TestPanickingSubscriberDoesNotStopDelivery(t *testing.T) {
	t.Parallel()

	h := NewHub(8)
	delivered := false
	h.Subscribe(event.TypeMessage, func(event.Event) { panic("boom") })
	h.Subscribe(event.TypeMessage, func(event.Event) { delivered = true })
	h.Publish(event.NewPrivateMessage(1, 2, message.Message{message.Text("hi")}))
	assert.True(t, delivered)
}

func TestRingBufferSnapshot(t *testing.T) {
	t.Parallel()

	h := NewHub(2)
	for i := 0; i < 3; i++ {
		h.Publish(event.NewPrivateMessage(1, int64(i), message.Message{message.Text("hi")}))
	}

	snap := h.SnapshotSince(0)
	require.Len(t, snap, 2)
	assert.Equal(t, int64(2), snap[0].ID)
	assert.Equal(t, int64(3), snap[1].ID)
	assert.Equal(t, event.TypePrivateMessage, snap[1].Type)
	assert.Contains(t, string(snap[1].Data), `"user_id":2`)

	assert.Len(t, h.SnapshotSince(2), 1)
	assert.Equal(t, int64(3), h.Published())
}

func TestWatchReceivesRecords(t *testing.T) {
	t.Parallel()

	h := NewHub(4)
	ch, cancel := h.Watch()
	h.Publish(event.NewPrivateMessage(1, 2, message.Message{message.Text("hi")}))

	rec := <-ch
	assert.Equal(t, int64(1), rec.ID)

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}
