package storage

import (
	"crypto/sha256"
	"encoding/hex"
)

const checksumPrefix = "sha256:"

// FormatChecksum renders a raw sha256 sum in the canonical form used in
// manifests and catalog records.
func FormatChecksum(sum []byte) string {
	return checksumPrefix + hex.EncodeToString(sum)
}

// ComputeChecksum computes the canonical checksum of data held in memory.
func ComputeChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return FormatChecksum(hash[:])
}

// VerifyChecksum verifies that data matches the expected checksum.
func VerifyChecksum(data []byte, expected string) bool {
	actual := ComputeChecksum(data)
	return actual == expected
}
