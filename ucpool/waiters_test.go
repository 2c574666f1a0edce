package ucpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaiterQueue(t *testing.T) {
	now := time.Now()
	var q waiterQueue

	w1 := newWaiter(now, now.Add(time.Second))
	w2 := newWaiter(now, time.Time{})
	w3 := newWaiter(now, now.Add(time.Minute))
	q.push(w1)
	q.push(w2)
	q.push(w3)
	assert.Equal(t, 3, q.len())

	assert.True(t, q.remove(w2))
	assert.False(t, q.remove(w2))

	expired := q.popExpired(now.Add(2 * time.Second))
	assert.Equal(t, []*waiter{w1}, expired)
	assert.False(t, q.remove(w1))

	assert.Same(t, w3, q.pop())
	assert.Nil(t, q.pop())
}

func TestWaiterExpired(t *testing.T) {
	now := time.Now()

	assert.False(t, newWaiter(now, time.Time{}).expired(now.Add(time.Hour)))
	assert.False(t, newWaiter(now, now.Add(time.Second)).expired(now))
	assert.True(t, newWaiter(now, now.Add(time.Second)).expired(now.Add(time.Second)))
}

func TestWaiterQueueDrain(t *testing.T) {
	now := time.Now()
	var q waiterQueue

	w1 := newWaiter(now, time.Time{})
	w2 := newWaiter(now, time.Time{})
	q.push(w1)
	q.push(w2)

	assert.Equal(t, []*waiter{w1, w2}, q.drain())
	assert.Equal(t, 0, q.len())
	assert.False(t, q.remove(w1))
}
