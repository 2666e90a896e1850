// Package shard partitions the record stream into bounded lock-free queues
// keyed by a stable per-record hash, so all updates for one account,
// signature, or slot traverse the same writer and the same socket in push
// order.
package shard

import (
	"fmt"

	"github.com/Numi2/solana-numistack/errors"
)

// Policy is the rule applied when a bounded queue is full.
type Policy int

const (
	// DropNewest discards the incoming record.
	DropNewest Policy = iota
	// DropOldest evicts the oldest queued record to admit the new one.
	DropOldest
	// Block parks the producer until space frees up. Never select this for
	// validator hot paths.
	Block
)

// String returns the config spelling of the policy.
func (p Policy) String() string {
	switch p {
	case DropNewest:
		return "drop_newest"
	case DropOldest:
		return "drop_oldest"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// ParsePolicy parses the config spelling of a policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "drop_newest":
		return DropNewest, nil
	case "drop_oldest":
		return DropOldest, nil
	case "block":
		return Block, nil
	default:
		return 0, errors.WrapInvalid(
			fmt.Errorf("unknown backpressure policy %q", s),
			"Policy", "ParsePolicy", "policy parsing")
	}
}
