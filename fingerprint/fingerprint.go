// Package fingerprint derives content-addressed cache keys from file
// bytes and processing options.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"imageConverter/models"
)

// Compute returns the cache key for (data, options): SHA-256 over the
// content hash and the canonical serialization of the normalized options.
// Option sets that differ only in defaulted fields hash identically.
func Compute(data []byte, opts models.ProcessingOptions) string {
	contentHash := sha256.Sum256(data)

	canonical, err := json.Marshal(opts.Normalized())
	if err != nil {
		// A fixed struct of scalars cannot fail to marshal; keep the
		// fallback deterministic anyway.
		canonical = []byte(fmt.Sprintf("%+v", opts.Normalized()))
	}

	h := sha256.New()
	h.Write(contentHash[:])
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}
