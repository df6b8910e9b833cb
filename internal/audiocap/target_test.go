package audiocap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetInactiveByDefault(t *testing.T) {
	tg := NewTarget()
	assert.False(t, tg.IsActive())

	delivered, hadSink := tg.Send(fillChunk(1))
	assert.False(t, delivered)
	assert.False(t, hadSink)
}

func TestTargetSetRoutesToSink(t *testing.T) {
	tg := NewTarget()
	ring := NewRing()
	tg.Set(ring)

	require.True(t, tg.IsActive())
	delivered, hadSink := tg.Send(fillChunk(7))
	require.True(t, delivered)
	require.True(t, hadSink)

	got, ok := ring.Pop()
	require.True(t, ok)
	assert.Equal(t, fillChunk(7), got)
}

func TestTargetClearDetaches(t *testing.T) {
	tg := NewTarget()
	ring := NewRing()
	tg.Set(ring)
	tg.Clear()

	assert.False(t, tg.IsActive())
	delivered, hadSink := tg.Send(fillChunk(1))
	assert.False(t, delivered)
	assert.False(t, hadSink)

	_, ok := ring.Pop()
	assert.False(t, ok)
}

func TestTargetSetReplacesPreviousSink(t *testing.T) {
	tg := NewTarget()
	first := NewRing()
	second := NewRing()

	tg.Set(first)
	tg.Set(second)
	delivered, hadSink := tg.Send(fillChunk(3))
	require.True(t, delivered)
	require.True(t, hadSink)

	_, ok := first.Pop()
	assert.False(t, ok)

	got, ok := second.Pop()
	require.True(t, ok)
	assert.Equal(t, fillChunk(3), got)
}

func TestTargetSendReportsHadSinkWhenRingFull(t *testing.T) {
	tg := NewTarget()
	ring := NewRing()
	tg.Set(ring)

	for i := 0; i < ringCapacity; i++ {
		delivered, hadSink := tg.Send(fillChunk(byte(i)))
		require.True(t, delivered)
		require.True(t, hadSink)
	}

	delivered, hadSink := tg.Send(fillChunk(99))
	assert.False(t, delivered)
	assert.True(t, hadSink)
}
