package workqueue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func drain[T any](q *Queue[T], numWorkers int, process func(T)) {
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for {
				item, ok := q.Pop()
				if !ok {
					return
				}
				process(item)
				q.Done()
			}
		}()
	}
	wg.Wait()
}

func TestDrainsFannedOutWork(t *testing.T) {
	q := New[int]()
	var mu sync.Mutex
	seen := map[int]bool{}

	q.Push(3)

	drain(q, 4, func(n int) {
		mu.Lock()
		seen[n] = true
		mu.Unlock()
		if n > 0 {
			q.Push(n - 1)
		}
	})

	require.Equal(t, map[int]bool{3: true, 2: true, 1: true, 0: true}, seen)
}

func TestEmptyQueueReturnsImmediately(t *testing.T) {
	q := New[int]()
	called := false
	drain(q, 2, func(int) { called = true })
	require.False(t, called)
}
