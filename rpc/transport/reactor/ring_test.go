package reactor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRingFIFOAndCapacity(t *testing.T) {
	r := newRing(5)
	require.Len(t, r.cells, 8)

	for i := 0; i < 8; i++ {
		require.True(t, r.tryPush(i))
	}
	require.False(t, r.tryPush(8))
	require.Equal(t, 8, r.len())

	for i := 0; i < 8; i++ {
		fd, ok := r.pop()
		require.True(t, ok)
		require.Equal(t, i, fd)
	}
	_, ok := r.pop()
	require.False(t, ok)

	// wraps around
	require.True(t, r.tryPush(42))
	fd, ok := r.pop()
	require.True(t, ok)
	require.Equal(t, 42, fd)
}

func TestRingConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 5000
	r := newRing(64)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				r.push(p*perProducer + i)
			}
		}(p)
	}

	seen := make([]bool, producers*perProducer)
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for n := 0; n < producers*perProducer; n++ {
		fd := r.next()
		require.False(t, seen[fd], "duplicate %d", fd)
		seen[fd] = true

		// each producer's items arrive in order
		p, i := fd/perProducer, fd%perProducer
		require.Greater(t, i, last[p])
		last[p] = i
	}
	wg.Wait()
	_, ok := r.pop()
	require.False(t, ok)
}

func TestRingNextWakesParkedConsumer(t *testing.T) {
	r := newRing(4)
	got := make(chan int, 1)
	go func() { got <- r.next() }()

	// long enough for the consumer to stop polling and park
	time.Sleep(20 * time.Millisecond)
	r.push(9)

	select {
	case fd := <-got:
		require.Equal(t, 9, fd)
	case <-time.After(5 * time.Second):
		t.Fatal("parked consumer was not woken")
	}
}

func TestPoolHandlesEverythingBeforeStop(t *testing.T) {
	var handled atomic.Int32
	var mu sync.Mutex
	byWorker := make(map[int]int)
	p := newPool("test", 3, 16, func(fd int) {
		handled.Add(1)
		mu.Lock()
		byWorker[fd%3]++
		mu.Unlock()
	})
	p.start()
	for fd := 0; fd < 300; fd++ {
		p.dispatch(fd)
	}
	for !p.tryDispatch(1000) {
	}
	// stop handles everything queued before the sentinel
	p.stop()

	require.EqualValues(t, 301, handled.Load())
	require.Equal(t, map[int]int{0: 100, 1: 101, 2: 100}, byWorker)
	require.Zero(t, p.backlog())
}

func TestPoolSurvivesPanics(t *testing.T) {
	var handled atomic.Int32
	p := newPool("test", 1, 8, func(fd int) {
		if fd == 1 {
			panic("boom")
		}
		handled.Add(1)
	})
	p.start()
	p.dispatch(1)
	p.dispatch(2)
	p.stop()
	require.EqualValues(t, 1, handled.Load())
}
