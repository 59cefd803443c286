/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ondemand

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func makeRequest(key string, priority int, source Source) LoadRequest[string] {
	return LoadRequest[string]{
		ID:          key + "-id",
		Key:         key,
		Priority:    priority,
		RequestedAt: time.Now(),
		Source:      source,
	}
}

func popKeys(q *requestQueue[string]) []string {
	var keys []string
	for {
		req, ok := q.popBest()
		if !ok {
			return keys
		}
		keys = append(keys, req.Key)
	}
}

func TestRequestQueue_PriorityOrder(t *testing.T) {
	q := newRequestQueue[string](0)
	q.upsert(makeRequest("a", 10, SourceViewport))
	q.upsert(makeRequest("b", 50, SourceUserRequest))
	q.upsert(makeRequest("c", 10, SourceViewport))

	// "a" and "c" share the priority, FIFO breaks the tie; "b" goes last.
	require.Equal(t, []string{"a", "c", "b"}, popKeys(q))
}

func TestRequestQueue_PopEmpty(t *testing.T) {
	q := newRequestQueue[string](0)
	_, ok := q.popBest()
	require.False(t, ok)
	require.Equal(t, 0, q.len())
}

func TestRequestQueue_UpsertDedup(t *testing.T) {
	t.Run("less urgent duplicate is dropped", func(t *testing.T) {
		q := newRequestQueue[string](0)
		q.upsert(makeRequest("a", 10, SourceViewport))
		q.upsert(makeRequest("a", 90, SourcePrefetch))

		require.Equal(t, 1, q.len())
		req, ok := q.popBest()
		require.True(t, ok)
		require.Equal(t, 10, req.Priority)
		require.Equal(t, SourceViewport, req.Source)
	})

	t.Run("equal priority keeps position, adopts source", func(t *testing.T) {
		q := newRequestQueue[string](0)
		q.upsert(makeRequest("a", 10, SourcePrefetch))
		q.upsert(makeRequest("b", 10, SourceViewport))
		q.upsert(makeRequest("a", 10, SourceUserRequest))

		require.Equal(t, 2, q.len())
		req, ok := q.popBest()
		require.True(t, ok)
		require.Equal(t, "a", req.Key) // FIFO position preserved
		require.Equal(t, SourceUserRequest, req.Source)
	})

	t.Run("more urgent duplicate fully replaces", func(t *testing.T) {
		q := newRequestQueue[string](0)
		q.upsert(makeRequest("a", 70, SourcePrefetch))
		q.upsert(makeRequest("b", 30, SourceViewport))
		q.upsert(makeRequest("a", 10, SourceUserRequest))

		req, ok := q.popBest()
		require.True(t, ok)
		require.Equal(t, "a", req.Key)
		require.Equal(t, 10, req.Priority)
		require.Equal(t, SourceUserRequest, req.Source)
	})
}

func TestRequestQueue_BoundedEviction(t *testing.T) {
	q := newRequestQueue[string](2)
	q.upsert(makeRequest("a", 50, SourcePrefetch))
	q.upsert(makeRequest("b", 60, SourcePrefetch))

	// An urgent newcomer displaces the least urgent queued entry.
	q.upsert(makeRequest("c", 10, SourceViewport))
	require.Equal(t, 2, q.len())
	require.True(t, q.contains("c"))
	require.True(t, q.contains("a"))
	require.False(t, q.contains("b"))

	// A newcomer weaker than everything queued is itself dropped.
	q.upsert(makeRequest("d", 90, SourcePrefetch))
	require.Equal(t, 2, q.len())
	require.False(t, q.contains("d"))

	// A duplicate upgrade never counts against the size cap.
	q.upsert(makeRequest("a", 5, SourceUserRequest))
	require.Equal(t, 2, q.len())
	require.Equal(t, []string{"a", "c"}, popKeys(q))
}

func TestRequestQueue_FullQueueEqualPriorityKeepsOldest(t *testing.T) {
	q := newRequestQueue[string](2)
	q.upsert(makeRequest("a", 50, SourcePrefetch))
	q.upsert(makeRequest("b", 50, SourcePrefetch))
	q.upsert(makeRequest("c", 50, SourcePrefetch))

	require.Equal(t, 2, q.len())
	require.False(t, q.contains("c"))
	require.Equal(t, []string{"a", "b"}, popKeys(q))
}
