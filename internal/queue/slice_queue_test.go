package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSliceQueue(t *testing.T) {
	require := require.New(t)

	q := NewSliceQueue[string](2)
	require.True(q.IsEmpty())

	_, ok := q.Dequeue()
	require.False(ok)
	_, ok = q.Peek()
	require.False(ok)

	q.Enqueue("!GR 0")
	q.Enqueue("!WL 500.000")
	q.Enqueue("?SWST")
	require.Equal(3, q.Length())
	require.Equal([]string{"!GR 0", "!WL 500.000", "?SWST"}, q.Items())

	head, ok := q.Peek()
	require.True(ok)
	require.Equal("!GR 0", head)

	item, ok := q.Dequeue()
	require.True(ok)
	require.Equal("!GR 0", item)
	require.Equal(2, q.Length())

	items := q.Items()
	items[0] = "mutated"
	head, _ = q.Peek()
	require.Equal("!WL 500.000", head)

	q.Reset()
	require.True(q.IsEmpty())
	require.Empty(q.Items())
}
