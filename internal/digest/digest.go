// Package digest computes content addresses for snapshots and git objects.
package digest

import (
	"crypto/sha1" //nolint:gosec // git object IDs are defined as SHA-1
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// SHA256Hex returns the hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// GitObjectID returns the git object ID for an object of the given kind
// ("blob", "tree", "commit"): SHA-1 over "<kind> <len>\x00<data>".
func GitObjectID(kind string, data []byte) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(kind + " " + strconv.Itoa(len(data)) + "\x00"))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
