package imaging

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Digest returns the lowercase hex BLAKE3-256 digest of b. The digest
// is the deduplication key for uploaded payloads; identical bytes
// always map to the same record.
func Digest(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}
