// Package submission implements the admission gate and workload
// materialisation pipeline: validate a submission, enforce quota, shard the
// payload, emit a workload, persist the job row.
package submission

import (
	"encoding/base64"
	"fmt"
)

// MaxShardBytes is the safety margin under the orchestrator's ~1 MiB
// per-config-blob limit. Payloads whose base64 encoding exceeds this
// threshold are split into sequentially numbered shards.
const MaxShardBytes = 900000

// ShardName derives the deterministic config-blob name for shard i of a job
// identified by shortID. index is explicit, not lexicographic — shard
// ordering during reassembly depends on this mapping being exact.
func ShardName(shortID string, index int) string {
	return fmt.Sprintf("sumo-%s-chunk%d", shortID, index)
}

// SingleBlobName is the config-blob name used when a payload fits in one
// blob (no sharding).
func SingleBlobName(shortID string) string {
	return fmt.Sprintf("sumo-%s", shortID)
}

// Shard splits a base64-encoded payload into N shards of at most
// MaxShardBytes each, in index order. Returns a single-element slice when
// the payload fits under the threshold.
func Shard(b64 string) []string {
	if len(b64) <= MaxShardBytes {
		return []string{b64}
	}

	n := (len(b64) + MaxShardBytes - 1) / MaxShardBytes
	shards := make([]string, 0, n)
	for i := 0; i < n; i++ {
		start := i * MaxShardBytes
		end := start + MaxShardBytes
		if end > len(b64) {
			end = len(b64)
		}
		shards = append(shards, b64[start:end])
	}
	return shards
}

// Reassemble concatenates shards in index order and base64-decodes the
// result. It is the inverse of Shard composed with base64 encoding, and is
// exercised directly by tests to pin down the bit-exact round trip the
// entry-point script performs inside the workload.
func Reassemble(shards []string) ([]byte, error) {
	var b64 string
	for _, s := range shards {
		b64 += s
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decoding reassembled payload: %w", err)
	}
	return raw, nil
}
