package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// OwnerKey maps a user or guest identifier to the object-store prefix that
// holds that owner's uploaded CVs. Surrounding whitespace is ignored.
func OwnerKey(userID string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(userID)))
	return hex.EncodeToString(sum[:])
}
