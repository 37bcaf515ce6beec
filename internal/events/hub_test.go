package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()
	defer cancel()

	ev := h.Publish(TypeStepComplete, map[string]any{"plugin": "ui", "step": 3})
	assert.Equal(t, int64(1), ev.ID)

	select {
	case got := <-ch:
		assert.Equal(t, TypeStepComplete, got.Type)
		assert.JSONEq(t, `{"plugin":"ui","step":3}`, string(got.Data))
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestPublishNilData(t *testing.T) {
	h := NewHub(10)
	ev := h.Publish(TypeUIReady, nil)
	assert.Equal(t, "{}", string(ev.Data))
}

func TestSnapshotSinceRingBuffer(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(TypeUIState, map[string]int{"n": i})
	}

	all := h.SnapshotSince(0)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{all[0].ID, all[1].ID, all[2].ID})

	later := h.SnapshotSince(4)
	require.Len(t, later, 1)
	assert.Equal(t, int64(5), later[0].ID)
}

func TestCancelClosesChannel(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	h.Publish(TypeUIState, nil)
}
