package greenhouse

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/xxh3"
)

// Fingerprint is a 128-bit content hash of a backend config document, used to
// skip no-op reloads.
type Fingerprint [16]byte

// FingerprintOf hashes raw config bytes.
func FingerprintOf(data []byte) Fingerprint {
	h128 := xxh3.Hash128(data)
	var fp Fingerprint
	binary.LittleEndian.PutUint64(fp[:8], h128.Lo)
	binary.LittleEndian.PutUint64(fp[8:], h128.Hi)
	return fp
}

// String returns the fingerprint as lowercase hex.
func (fp Fingerprint) String() string {
	return hex.EncodeToString(fp[:])
}
