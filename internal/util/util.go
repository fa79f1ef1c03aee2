package util

import (
	"crypto/sha1"
	"encoding/hex"
)

// Checksum is the hex SHA-1 of data. It is recorded, not verified: the
// archive publishes no digests to compare against.
func Checksum(data []byte) string {
	hasher := sha1.New()
	hasher.Write(data)

	return hex.EncodeToString(hasher.Sum(nil))
}
