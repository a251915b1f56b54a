package transfer

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(jobs []Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Name)
	}
	return out
}

func TestQueue_LengthTracksAppendsAndRemovals(t *testing.T) {
	q := NewQueue(0)

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Append(NewJob(fmt.Sprintf("f%d.data", i))))
	}
	assert.Equal(t, 10, q.Len())

	removed := 0
	for _, pos := range []int{1, 5, 8, 1, 0, 42} {
		if _, err := q.RemoveAt(pos); err == nil {
			removed++
		}
	}
	assert.Equal(t, 10-removed, q.Len())
	assert.Equal(t, 4, removed)
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(0)
	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, q.Append(NewJob(n)))
	}

	head, ok := q.Head()
	require.True(t, ok)
	assert.Equal(t, "a", head.Name)

	job, err := q.RemoveAt(1)
	require.NoError(t, err)
	assert.Equal(t, "a", job.Name)

	require.NoError(t, q.Append(NewJob("d")))

	if diff := cmp.Diff([]string{"b", "c", "d"}, names(q.Snapshot())); diff != "" {
		t.Errorf("順序が一致しません (-want +got):\n%s", diff)
	}
}

func TestQueue_RemoveAtMiddleAndTail(t *testing.T) {
	q := NewQueue(0)
	for _, n := range []string{"a", "b", "c", "d"} {
		require.NoError(t, q.Append(NewJob(n)))
	}

	job, err := q.RemoveAt(3)
	require.NoError(t, err)
	assert.Equal(t, "c", job.Name)

	job, err = q.RemoveAt(3)
	require.NoError(t, err)
	assert.Equal(t, "d", job.Name)

	if diff := cmp.Diff([]string{"a", "b"}, names(q.Snapshot())); diff != "" {
		t.Errorf("順序が一致しません (-want +got):\n%s", diff)
	}
}

func TestQueue_RemoveAtOutOfRange(t *testing.T) {
	q := NewQueue(0)
	require.NoError(t, q.Append(NewJob("a")))
	require.NoError(t, q.Append(NewJob("b")))
	before := q.Snapshot()

	testCases := []struct {
		name     string
		position int
	}{
		{"ゼロ", 0},
		{"負の値", -1},
		{"長さを超える", 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := q.RemoveAt(tc.position)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrIndexOutOfRange))
			if diff := cmp.Diff(before, q.Snapshot()); diff != "" {
				t.Errorf("キューが変更されました (-want +got):\n%s", diff)
			}
		})
	}
}

func TestQueue_EmptyHead(t *testing.T) {
	q := NewQueue(4)
	_, ok := q.Head()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())

	_, err := q.RemoveAt(1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestQueue_Capacity(t *testing.T) {
	q := NewQueue(4)
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Append(NewJob(fmt.Sprintf("f%d", i))))
	}

	err := q.Append(NewJob("f4"))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 4, q.Len())

	_, err = q.RemoveAt(1)
	require.NoError(t, err)
	assert.NoError(t, q.Append(NewJob("f4")))
}

func TestQueue_ConcurrentAppendAndDrain(t *testing.T) {
	q := NewQueue(0)
	const producers, perProducer = 4, 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Append(NewJob(fmt.Sprintf("p%d-%03d", p, i)))
			}
		}(p)
	}

	// 生産者ごとの追加順序が保たれることを確認しながら取り出す
	last := make(map[string]string)
	drained := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	drain := func() {
		q.Locked(func(l *LockedQueue) {
			for l.Len() > 0 {
				job, err := l.RemoveAt(1)
				require.NoError(t, err)
				prefix := job.Name[:2]
				if prev, ok := last[prefix]; ok {
					assert.Less(t, prev, job.Name)
				}
				last[prefix] = job.Name
				drained++
			}
		})
	}

	for {
		select {
		case <-done:
			drain()
			assert.Equal(t, producers*perProducer, drained)
			assert.Equal(t, 0, q.Len())
			return
		default:
			drain()
		}
	}
}
