package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type command struct {
	ID   int
	Text string
}

func TestQueue_New(t *testing.T) {
	q := New[command]()
	require.NotNil(t, q)
	assert.Zero(t, q.Len())
}

func TestQueue_PushShift(t *testing.T) {
	q := New[command]()

	_, ok := q.Shift()
	assert.False(t, ok)

	q.Push(command{ID: 1, Text: "first"})
	q.Push(command{ID: 2}, command{ID: 3})
	assert.Equal(t, 3, q.Len())

	first, ok := q.Shift()
	require.True(t, ok)
	assert.Equal(t, command{ID: 1, Text: "first"}, first)
	assert.Equal(t, 2, q.Len())
}

func TestQueue_PushUnlessLast(t *testing.T) {
	q := New[command]()
	same := func(a, b command) bool { return a.Text == b.Text }

	assert.True(t, q.PushUnlessLast(command{ID: 1, Text: "a"}, same))
	assert.False(t, q.PushUnlessLast(command{ID: 2, Text: "a"}, same))
	assert.True(t, q.PushUnlessLast(command{ID: 3, Text: "b"}, same))
	assert.True(t, q.PushUnlessLast(command{ID: 4, Text: "a"}, same))

	items := q.GetAndEmpty()
	require.Len(t, items, 3)
	assert.Equal(t, []int{1, 3, 4}, []int{items[0].ID, items[1].ID, items[2].ID})
}

func TestQueue_GetAndEmpty(t *testing.T) {
	q := New[command]()
	q.Push(command{ID: 1}, command{ID: 2}, command{ID: 3})

	result := q.GetAndEmpty()

	assert.Equal(t, []command{{ID: 1}, {ID: 2}, {ID: 3}}, result)
	assert.Zero(t, q.Len())
}

func TestQueue_Concurrent(t *testing.T) {
	q := New[command]()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			q.Push(command{ID: id})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, q.Len())

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Shift()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, q.Len())
}
