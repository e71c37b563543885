package findings

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Fingerprint is the stable identity of a finding across re-runs: the first
// 16 hex characters of SHA-256 over path, line and the normalized body.
func Fingerprint(path string, line int, body string) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(line)))
	h.Write([]byte{0})
	h.Write([]byte(normalize(body)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func normalize(body string) string {
	return strings.Join(strings.Fields(strings.ToLower(body)), " ")
}
