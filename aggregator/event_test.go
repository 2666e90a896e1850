package aggregator

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Numi2/solana-numistack/codec"
)

func TestAccountEvent(t *testing.T) {
	sig := [64]byte{1, 2}
	a := &codec.Account{
		Slot:         9,
		Lamports:     100,
		RentEpoch:    2,
		WriteVersion: 5,
		Executable:   true,
		Data:         make([]byte, 128),
		TxnSignature: &sig,
	}
	a.Pubkey[0] = 0xAB

	line, err := MarshalEvent(codec.NewAccountRecord(a))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(line, &got))
	assert.Equal(t, "account", got["type"])
	assert.Equal(t, float64(9), got["slot"])
	assert.Equal(t, float64(128), got["data_len"])
	assert.True(t, strings.HasPrefix(got["pubkey"].(string), "ab00"))
	assert.NotContains(t, got, "data", "raw account data must not be serialized")
}

func TestSlotEventStatusString(t *testing.T) {
	parent := uint64(7)
	line, err := MarshalEvent(codec.NewSlotRecord(&codec.Slot{
		Slot: 8, Parent: &parent, Status: codec.SlotRooted,
	}))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(line, &got))
	assert.Equal(t, "slot", got["type"])
	assert.Equal(t, "rooted", got["status"])
	assert.Equal(t, float64(7), got["parent"])
}

func TestTransactionEventLengthsOnly(t *testing.T) {
	tx := &codec.Transaction{Slot: 3, Meta: make([]byte, 10), Message: make([]byte, 20)}
	line, err := MarshalEvent(codec.NewTransactionRecord(tx))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(line, &got))
	assert.Equal(t, "transaction", got["type"])
	assert.Equal(t, float64(10), got["meta_len"])
	assert.Equal(t, float64(20), got["message_len"])
}

func TestBlockEventOptionals(t *testing.T) {
	bt := int64(1700000000)
	b := &codec.Block{Slot: 4, BlockTime: &bt, ExecutedTxCount: 7, EntryCount: 9}
	line, err := MarshalEvent(codec.NewBlockRecord(b))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(line, &got))
	assert.Equal(t, "block", got["type"])
	assert.Equal(t, float64(bt), got["block_time"])
	assert.NotContains(t, got, "block_height")
}

func TestEndOfStartupEvent(t *testing.T) {
	line, err := MarshalEvent(codec.NewEndOfStartupRecord())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"end_of_startup"}`, string(line))
}
