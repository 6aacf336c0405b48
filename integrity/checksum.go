// Package integrity maintains bounded per-entity snapshot histories with
// checksums and classifies incoming data as clean, corrupted, or stale.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Checksum computes a deterministic fingerprint of an entity's content.
// Map keys are serialized in sorted order, so identical logical content
// always yields an identical checksum regardless of key insertion order.
func Checksum(data map[string]interface{}) (string, error) {
	// encoding/json sorts map keys during marshaling, which gives us the
	// canonical form for free.
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("checksum serialization: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
