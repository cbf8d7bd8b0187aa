package browser

import (
	"fmt"
	"strings"
)

const fingerprintPrefixLen = 256

// Fingerprint derives a cheap, approximate equality key over a document
// state: address, normalized markup length, and a markup prefix. Two equal
// fingerprints mean "treat the document as unchanged since the last step".
// Never persisted, never interpreted, not cryptographic.
func Fingerprint(addr, markup string) string {
	normalized := strings.Join(strings.Fields(markup), " ")
	prefix := normalized
	if len(prefix) > fingerprintPrefixLen {
		prefix = prefix[:fingerprintPrefixLen]
	}
	return fmt.Sprintf("%s|%d|%s", addr, len(normalized), prefix)
}

// CurrentFingerprint snapshots the session's live document.
func (s *Session) CurrentFingerprint() (string, error) {
	content, err := s.Content()
	if err != nil {
		return "", err
	}
	return Fingerprint(s.URL(), content), nil
}
