package shard

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRingRejectsNonPowerOfTwo(t *testing.T) {
	for _, capacity := range []int{0, 1, 3, 6, 1000} {
		_, err := NewRing[int](capacity)
		assert.Error(t, err, "capacity %d", capacity)
	}
	for _, capacity := range []int{2, 4, 16, 16384} {
		r, err := NewRing[int](capacity)
		require.NoError(t, err, "capacity %d", capacity)
		assert.Equal(t, capacity, r.Cap())
	}
}

func TestRingFIFO(t *testing.T) {
	r, err := NewRing[int](8)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		require.True(t, r.TryPush(i))
	}
	assert.False(t, r.TryPush(99), "push into full ring must fail")
	assert.Equal(t, 8, r.Len())

	for i := 0; i < 8; i++ {
		v, ok := r.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := r.TryPop()
	assert.False(t, ok, "pop from empty ring must fail")
}

func TestRingWrapAround(t *testing.T) {
	r, err := NewRing[int](4)
	require.NoError(t, err)

	for round := 0; round < 100; round++ {
		require.True(t, r.TryPush(round))
		v, ok := r.TryPop()
		require.True(t, ok)
		assert.Equal(t, round, v)
	}
}

func TestRingDepthNeverExceedsCapacity(t *testing.T) {
	r, err := NewRing[int](16)
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5000; i++ {
				r.TryPush(i)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				r.TryPop()
				assert.LessOrEqual(t, r.Len(), 16)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(50 * time.Millisecond)
		close(stop)
	}()
	wg.Wait()
}

func TestRingConcurrentProducersDeliverEverythingThatFits(t *testing.T) {
	const producers = 8
	const perProducer = 10000

	r, err := NewRing[int](1 << 14)
	require.NoError(t, err)

	seen := make(map[int]int)
	producersDone := make(chan struct{})
	consumerDone := make(chan struct{})

	go func() {
		defer close(consumerDone)
		for {
			v, ok := r.TryPop()
			if !ok {
				select {
				case <-producersDone:
					// Drain whatever is left, then stop.
					for {
						v, ok := r.TryPop()
						if !ok {
							return
						}
						seen[v]++
					}
				default:
					time.Sleep(time.Microsecond)
				}
				continue
			}
			seen[v]++
		}
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !r.TryPush(p*perProducer + i) {
					time.Sleep(time.Microsecond)
				}
			}
		}(p)
	}
	wg.Wait()
	close(producersDone)
	<-consumerDone

	assert.Len(t, seen, producers*perProducer)
	for v, n := range seen {
		assert.Equal(t, 1, n, "value %d observed %d times", v, n)
	}
}

func TestPopWaitTimesOut(t *testing.T) {
	r, err := NewRing[int](4)
	require.NoError(t, err)

	start := time.Now()
	_, ok := r.PopWait(20*time.Millisecond, nil)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestPopWaitWakesOnPush(t *testing.T) {
	r, err := NewRing[int](4)
	require.NoError(t, err)

	go func() {
		time.Sleep(5 * time.Millisecond)
		r.TryPush(42)
	}()

	v, ok := r.PopWait(500*time.Millisecond, nil)
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestPopWaitHonorsStop(t *testing.T) {
	r, err := NewRing[int](4)
	require.NoError(t, err)

	stop := make(chan struct{})
	go func() {
		time.Sleep(5 * time.Millisecond)
		close(stop)
	}()

	start := time.Now()
	_, ok := r.PopWait(time.Second, stop)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
