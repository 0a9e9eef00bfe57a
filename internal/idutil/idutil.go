package idutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

const (
	PrefixConversion = "conv"
	PrefixJob        = "job"
)

var seq atomic.Uint64

// ConversionID returns a fresh id for one conversion, used as the driver's
// instance id and in every log line it writes.
// Format: conv_XXXXXXXX (13 chars total)
func ConversionID() string {
	data := fmt.Sprintf("%d:%d", time.Now().UnixNano(), seq.Add(1))
	return hashID(PrefixConversion, data)
}

// JobID is stable for a given input and its position in a batch, so reruns
// of the same batch produce the same ids.
// Format: job_XXXXXXXX (12 chars total)
func JobID(input string, index int) string {
	return hashID(PrefixJob, fmt.Sprintf("%d:%s", index, input))
}

// hashID creates a short hash-based ID with the given prefix
// Format: {prefix}_{first 8 hex chars of SHA256}
func hashID(prefix, data string) string {
	hash := sha256.Sum256([]byte(data))
	return prefix + "_" + hex.EncodeToString(hash[:4])
}

// IsValidID checks if an ID matches the expected prefix format
func IsValidID(id, prefix string) bool {
	if len(id) < len(prefix)+1 {
		return false
	}
	return id[:len(prefix)] == prefix && id[len(prefix)] == '_'
}

// ExtractPrefix extracts the prefix from an ID
func ExtractPrefix(id string) string {
	for i, c := range id {
		if c == '_' {
			return id[:i]
		}
	}
	return ""
}
