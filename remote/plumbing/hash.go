package plumbing

import (
	"encoding/hex"

	"github.com/go-git/go-git/v5/plumbing"
)

// MakeCommitHash creates and returns a commit hash from the specified data
func MakeCommitHash(data string) plumbing.Hash {
	return plumbing.ComputeHash(plumbing.CommitObject, []byte(data))
}

// IsZeroHash checks whether a given hash is a zero git hash
func IsZeroHash(h string) bool {
	return h == plumbing.ZeroHash.String()
}

// HashToBytes decodes a hex-encoded hash string to its raw bytes.
// It panics if the input is not valid hex.
func HashToBytes(hash string) []byte {
	bz, err := hex.DecodeString(hash)
	if err != nil {
		panic(err)
	}
	return bz
}

// BytesToHex hex-encodes a raw hash.
func BytesToHex(bz []byte) string {
	return hex.EncodeToString(bz)
}

// BytesToHash converts raw hash bytes to a plumbing.Hash.
func BytesToHash(bz []byte) plumbing.Hash {
	var h plumbing.Hash
	copy(h[:], bz)
	return h
}
