package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintIgnoresWhitespaceChurn(t *testing.T) {
	a := Fingerprint("https://x.test/q", "<div>  Hello\n\tworld </div>")
	b := Fingerprint("https://x.test/q", "<div> Hello world </div>")
	assert.Equal(t, a, b)
}

func TestFingerprintChangesWithContent(t *testing.T) {
	a := Fingerprint("https://x.test/q", "<div>step one</div>")
	b := Fingerprint("https://x.test/q", "<div>step two</div>")
	assert.NotEqual(t, a, b)
}

func TestFingerprintChangesWithAddress(t *testing.T) {
	markup := "<div>same body</div>"
	a := Fingerprint("https://x.test/q/1", markup)
	b := Fingerprint("https://x.test/q/2", markup)
	assert.NotEqual(t, a, b)
}

func TestFingerprintSeesLengthBeyondPrefix(t *testing.T) {
	head := strings.Repeat("a", 400)
	a := Fingerprint("https://x.test/q", head)
	b := Fingerprint("https://x.test/q", head+" trailing change")
	assert.NotEqual(t, a, b)
}

func TestIsSessionClosed(t *testing.T) {
	closed := []string{
		"Target closed",
		"page has been closed",
		"websocket: close 1006 (abnormal closure)",
		"browser closed unexpectedly",
	}
	for _, msg := range closed {
		assert.True(t, IsSessionClosed(errOf(msg)), msg)
	}
	assert.False(t, IsSessionClosed(nil))
	assert.False(t, IsSessionClosed(errOf("timeout 2000ms exceeded")))
	assert.False(t, IsSessionClosed(errOf("element is not visible")))
}

type strErr string

func (e strErr) Error() string { return string(e) }

func errOf(msg string) error { return strErr(msg) }
