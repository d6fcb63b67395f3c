package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadmailer/internal/domain/dispatch"
)

func TestHub_ObserverPublishes(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.OnEvent("r1", dispatch.SendEvent{ID: 1, RecipientID: "l1", Status: dispatch.StatusSending})
	h.OnProgress(dispatch.Progress{RunID: "r1", Total: 2, Sent: 1, Pending: 1})

	first := <-ch
	assert.Equal(t, TypeSendEvent, first.Type)
	assert.Equal(t, "r1", first.RunID)
	var ev dispatch.SendEvent
	require.NoError(t, first.Decode(&ev))
	assert.Equal(t, "l1", ev.RecipientID)

	second := <-ch
	assert.Equal(t, TypeProgress, second.Type)
	var p dispatch.Progress
	require.NoError(t, second.Decode(&p))
	assert.Equal(t, 1, p.Sent)
	assert.Greater(t, second.ID, first.ID)
}

func TestHub_SnapshotSince_RingOverwrites(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(TypeProgress, "r1", map[string]int{"i": i})
	}
	all := h.SnapshotSince(0)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].ID)
	assert.Equal(t, int64(5), all[2].ID)

	tail := h.SnapshotSince(4)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(5), tail[0].ID)
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(10)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			h.Publish(TypeProgress, "r1", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestHub_CancelClosesOnce(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers())
	h.Publish(TypeProgress, "r1", nil)
}

func TestHub_NilDataIsEmptyObject(t *testing.T) {
	h := NewHub(1)
	h.Publish(TypeProgress, "r1", nil)
	assert.JSONEq(t, `{}`, string(h.SnapshotSince(0)[0].Data))
}
