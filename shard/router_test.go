package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Numi2/solana-numistack/codec"
)

func accountRecord(pubkey byte, slot uint64) *codec.Record {
	a := &codec.Account{Slot: slot}
	for i := range a.Pubkey {
		a.Pubkey[i] = pubkey
	}
	return codec.NewAccountRecord(a)
}

func TestNewRouterValidation(t *testing.T) {
	_, err := NewRouter(0, 16, DropNewest, nil)
	assert.Error(t, err)

	_, err = NewRouter(4, 17, DropNewest, nil)
	assert.Error(t, err, "capacity must be a power of two")

	r, err := NewRouter(4, 16, DropNewest, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Shards())
}

func TestKeyHashStablePerKind(t *testing.T) {
	a := accountRecord(1, 10)
	b := accountRecord(1, 999)
	assert.Equal(t, KeyHash(a), KeyHash(b), "same pubkey must hash identically regardless of slot")

	c := accountRecord(2, 10)
	assert.NotEqual(t, KeyHash(a), KeyHash(c))

	s1 := codec.NewSlotRecord(&codec.Slot{Slot: 42})
	s2 := codec.NewSlotRecord(&codec.Slot{Slot: 42, Status: codec.SlotRooted})
	assert.Equal(t, KeyHash(s1), KeyHash(s2))

	blk := codec.NewBlockRecord(&codec.Block{Slot: 42})
	assert.Equal(t, KeyHash(s1), KeyHash(blk), "blocks and slots share the slot key")

	assert.Zero(t, KeyHash(codec.NewEndOfStartupRecord()))
}

func TestSameKeyAlwaysSameShard(t *testing.T) {
	r, err := NewRouter(8, 16384, DropNewest, nil)
	require.NoError(t, err)

	want := r.ShardFor(accountRecord(7, 0))
	for slot := uint64(0); slot < 1000; slot++ {
		assert.Equal(t, want, r.ShardFor(accountRecord(7, slot)))
	}
}

func TestShardOrderingPerKey(t *testing.T) {
	// Scenario: interleave 1000 updates each for two pubkeys; each key's
	// delivered sequence must be a prefix-preserving subsequence of its
	// push order.
	r, err := NewRouter(4, 16384, DropNewest, nil)
	require.NoError(t, err)

	for slot := uint64(0); slot < 1000; slot++ {
		require.Equal(t, Pushed, r.Push(accountRecord(1, slot)))
		require.Equal(t, Pushed, r.Push(accountRecord(2, slot)))
	}

	lastSeen := map[byte]int64{1: -1, 2: -1}
	counts := map[byte]int{}
	for i := 0; i < r.Shards(); i++ {
		q := r.Queue(i)
		for {
			rec, ok := q.Pop()
			if !ok {
				break
			}
			key := rec.Account.Pubkey[0]
			assert.Greater(t, int64(rec.Account.Slot), lastSeen[key], "key %d reordered", key)
			lastSeen[key] = int64(rec.Account.Slot)
			counts[key]++
		}
	}
	assert.Equal(t, 1000, counts[1])
	assert.Equal(t, 1000, counts[2])
}

func TestRouterDropsAfterClose(t *testing.T) {
	r, err := NewRouter(2, 16, DropNewest, nil)
	require.NoError(t, err)

	require.Equal(t, Pushed, r.Push(accountRecord(1, 1)))
	r.Close()
	assert.Equal(t, DroppedNewest, r.Push(accountRecord(1, 2)))

	// Queued records remain available for draining.
	total := 0
	for i := 0; i < r.Shards(); i++ {
		for {
			if _, ok := r.Queue(i).Pop(); !ok {
				break
			}
			total++
		}
	}
	assert.Equal(t, 1, total)
}
