package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ContentHash fingerprints the semantically significant raw fields of an
// issue. Title and body are NFC-normalized and line endings folded so that
// cosmetic re-encodings by the tracker do not count as edits.
func ContentHash(title, body string) string {
	h := sha256.New()
	h.Write([]byte(normalizeText(title)))
	h.Write([]byte{0})
	h.Write([]byte(normalizeText(body)))
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns the content hash of the raw issue.
func (r RawIssue) Fingerprint() string {
	return ContentHash(r.Title, r.Body)
}

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return norm.NFC.String(strings.TrimSpace(s))
}
