package shard

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Numi2/solana-numistack/errors"
)

func TestDropNewestKeepsFirstItems(t *testing.T) {
	q, err := NewQueue[int](4, DropNewest)
	require.NoError(t, err)

	drops := 0
	for i := 0; i < 100; i++ {
		outcome, dropped, hasDropped := q.Push(i)
		if outcome == DroppedNewest {
			drops++
			require.True(t, hasDropped)
			assert.Equal(t, i, dropped, "DropNewest must discard the incoming item")
		}
	}
	assert.Equal(t, 96, drops)
	assert.Equal(t, 4, q.Len())

	// Exactly the first four pushes survive, in order.
	for i := 0; i < 4; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestDropOldestKeepsLastItems(t *testing.T) {
	q, err := NewQueue[int](4, DropOldest)
	require.NoError(t, err)

	evictions := 0
	for i := 0; i < 100; i++ {
		outcome, _, hasDropped := q.Push(i)
		if outcome == DroppedOldest {
			evictions++
			require.True(t, hasDropped)
		}
	}
	assert.Equal(t, 96, evictions)

	// The last four pushes survive, in order.
	for i := 96; i < 100; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestDropOldestReportsEvictedValue(t *testing.T) {
	q, err := NewQueue[int](2, DropOldest)
	require.NoError(t, err)

	q.Push(10)
	q.Push(11)
	outcome, dropped, hasDropped := q.Push(12)
	assert.Equal(t, DroppedOldest, outcome)
	require.True(t, hasDropped)
	assert.Equal(t, 10, dropped)
}

func TestSaturatingProducerNeverBlocksUnderDropPolicies(t *testing.T) {
	for _, policy := range []Policy{DropNewest, DropOldest} {
		t.Run(policy.String(), func(t *testing.T) {
			q, err := NewQueue[int](4, policy)
			require.NoError(t, err)

			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 0; i < 100000; i++ {
					q.Push(i)
				}
			}()

			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("producer blocked under a drop policy")
			}
		})
	}
}

func TestBlockPolicyParksAndResumes(t *testing.T) {
	q, err := NewQueue[int](2, Block)
	require.NoError(t, err)

	require.NoError(t, q.PushBlock(1, nil))
	require.NoError(t, q.PushBlock(2, nil))

	pushed := make(chan struct{})
	go func() {
		defer close(pushed)
		_ = q.PushBlock(3, nil)
	}()

	select {
	case <-pushed:
		t.Fatal("push into full queue should have parked")
	case <-time.After(20 * time.Millisecond):
	}

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("parked producer was not woken by pop")
	}
}

func TestBlockPolicyUnparksOnStop(t *testing.T) {
	q, err := NewQueue[int](2, Block)
	require.NoError(t, err)
	require.NoError(t, q.PushBlock(1, nil))
	require.NoError(t, q.PushBlock(2, nil))

	stop := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.PushBlock(3, stop)
	}()

	time.Sleep(10 * time.Millisecond)
	close(stop)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, errors.ErrShuttingDown)
	case <-time.After(time.Second):
		t.Fatal("stop did not unpark the producer")
	}
}

func TestQueueOrderPreservedPerProducer(t *testing.T) {
	// Invariant: drops remove entries but never reorder. With many
	// producers, each producer's surviving items must appear in its push
	// order.
	q, err := NewQueue[[2]int](64, DropNewest)
	require.NoError(t, err)

	const producers = 4
	const perProducer = 5000

	var delivered [][2]int
	var mu sync.Mutex
	producersDone := make(chan struct{})
	consumerDone := make(chan struct{})

	go func() {
		defer close(consumerDone)
		for {
			v, ok := q.Pop()
			if !ok {
				select {
				case <-producersDone:
					for {
						v, ok := q.Pop()
						if !ok {
							return
						}
						mu.Lock()
						delivered = append(delivered, v)
						mu.Unlock()
					}
				default:
					time.Sleep(time.Microsecond)
				}
				continue
			}
			mu.Lock()
			delivered = append(delivered, v)
			mu.Unlock()
		}
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push([2]int{p, i})
			}
		}(p)
	}
	wg.Wait()
	close(producersDone)
	<-consumerDone

	last := map[int]int{0: -1, 1: -1, 2: -1, 3: -1}
	for _, v := range delivered {
		p, seq := v[0], v[1]
		assert.Greater(t, seq, last[p], "producer %d reordered", p)
		last[p] = seq
	}
}
