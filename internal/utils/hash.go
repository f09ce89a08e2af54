package utils

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// HashBytes calculates the BLAKE3 hash of a byte slice
func HashBytes(data []byte) string {
	hasher := blake3.New()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

// HashString calculates the BLAKE3 hash of a string
func HashString(data string) string {
	return HashBytes([]byte(data))
}

// HashParts hashes the parts joined by '|'
func HashParts(parts ...string) string {
	hasher := blake3.New()
	for i, part := range parts {
		if i > 0 {
			hasher.Write([]byte{'|'})
		}
		hasher.Write([]byte(part))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
