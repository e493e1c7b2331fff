package na

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallbackQueuePushAndTriggerFIFO(t *testing.T) {
	q := NewCallbackQueue()

	var order []int
	var released []int
	for i := 0; i < 3; i++ {
		i := i
		q.push(func(*CompletionInfo) { order = append(order, i) }, &CompletionInfo{}, func() { released = append(released, i) })
	}
	assert.Equal(t, 3, q.Len())

	n := q.Trigger(0)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{0, 1, 2}, order)
	assert.Equal(t, []int{0, 1, 2}, released)
	assert.Equal(t, 0, q.Len())
}

func TestCallbackQueueTriggerRespectsMax(t *testing.T) {
	q := NewCallbackQueue()
	for i := 0; i < 5; i++ {
		q.push(func(*CompletionInfo) {}, &CompletionInfo{}, nil)
	}

	n := q.Trigger(2)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, q.Len())

	n = q.Trigger(10)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, q.Len())
}

func TestCallbackQueueTriggerOnEmptyIsNoop(t *testing.T) {
	q := NewCallbackQueue()
	assert.Equal(t, 0, q.Trigger(5))
}

func TestCallbackQueueNilCallbackAndReleaseAreSkippedSafely(t *testing.T) {
	q := NewCallbackQueue()
	q.push(nil, &CompletionInfo{}, nil)
	assert.Equal(t, 1, q.Trigger(0))
}
