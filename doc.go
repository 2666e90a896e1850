// Package numistack is a low-latency ingestion and fan-out pipeline for a
// high-throughput blockchain validator.
//
// # Architecture
//
// An in-process plugin adapter observes validator account, transaction,
// block, and slot updates and emits them as framed binary records over Unix
// domain sockets; a local aggregator daemon reads those frames and fans them
// out to downstream sinks. The layers, leaves first:
//
//   - codec: the self-describing frame format shared by every producer and
//     consumer (optional LZ4 compression, optional archived zero-copy view)
//   - shard: bounded lock-free rings partitioning the record stream by a
//     stable per-kind key, with an explicit backpressure policy
//   - writer: one worker per shard draining its ring with batched vectored
//     writes to one UDS, reconnecting with jittered backoff
//   - plugin: the host-facing adapter translating validator callbacks into
//     records without blocking or allocating on the hot path
//   - remote: an alternate ingress producing the same records from a remote
//     streaming subscription
//   - aggregator: the UDS listener, per-connection frame reader, and sink
//     dispatcher (stdout JSONL, NATS, websocket)
//
// Data flow:
//
//	host event -> adapter -> shard ring -> writer -> UDS -> aggregator -> sinks
//
// Within one shard, records are delivered strictly in push order; across
// shards there is no ordering. Drops are resolved locally by the configured
// backpressure policy and surfaced only as Prometheus counters.
package numistack
