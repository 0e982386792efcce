package crypto

import (
	"crypto/sha1"
	"encoding/hex"
)

// HostKey derives the deterministic session identity for a credential pair.
// Clients cache this value, so the format must not change.
func HostKey(name, password string) string {
	sum := sha1.Sum([]byte(name + ":" + password))
	return hex.EncodeToString(sum[:])
}
