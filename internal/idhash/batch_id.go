package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeBatchID computes a deterministic batch_id using SHA256.
// Formula: SHA256(run_id|fetch_time_ms)
// Returns hex-encoded hash (64 characters).
func ComputeBatchID(runID string, fetchTimeMs int64) string {
	data := fmt.Sprintf("%s|%d", runID, fetchTimeMs)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeRecordID computes a deterministic id for one staged record.
// Formula: SHA256(batch_id|seq)
func ComputeRecordID(batchID string, seq int) string {
	data := fmt.Sprintf("%s|%d", batchID, seq)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
