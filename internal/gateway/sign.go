package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// The gateway authenticates both directions with a checksum header:
// sha256(base64(payload) + path + signingKey) in hex, followed by "###" and
// the index of the key that produced it. An unverifiable message is never
// trusted as a status.

const verifyHeader = "X-Verify"
const verifySeparator = "###"

// checksum computes the verify header value for an encoded payload and
// request path.
func checksum(encodedPayload, path, signingKey string, keyIndex int) string {
	sum := sha256.Sum256([]byte(encodedPayload + path + signingKey))
	return hex.EncodeToString(sum[:]) + verifySeparator + fmt.Sprintf("%d", keyIndex)
}

// verifyChecksum checks a received verify header against the expected value
// for the given payload and path. The key index travels with the header but
// must match the configured index.
func verifyChecksum(header, encodedPayload, path, signingKey string, keyIndex int) bool {
	if header == "" {
		return false
	}
	got, idx, found := strings.Cut(header, verifySeparator)
	if !found || idx != fmt.Sprintf("%d", keyIndex) {
		return false
	}
	sum := sha256.Sum256([]byte(encodedPayload + path + signingKey))
	want := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
