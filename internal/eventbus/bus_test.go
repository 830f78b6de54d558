package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFiltersByType(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	stopped, unsubStopped := b.Subscribe(4, TypeRunStopped)
	defer unsubStopped()

	b.Publish(Event{Type: TypeRestored, Data: 1})
	b.Publish(Event{Type: TypeRunStopped, Data: 2})

	require.Len(t, all, 2)
	require.Len(t, stopped, 1)
	e := <-stopped
	assert.Equal(t, 2, e.Data)
	assert.False(t, e.Time.IsZero())
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	assert.Equal(t, uint64(1), b.Dropped())
	assert.Equal(t, "a", (<-ch).Type)

	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok, "channel closed after unsubscribe")
	b.Publish(Event{Type: "c"})
}
