package risk

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// fingerprintHeaders are the request headers folded into the client
// fingerprint, in a fixed order so equal clients hash equally.
var fingerprintHeaders = []string{
	"User-Agent",
	"Accept",
	"Accept-Language",
	"Accept-Encoding",
}

// Fingerprint derives a stable client identifier from request
// headers. It is a 16-character hex digest, deliberately short: the
// fingerprint groups requests for velocity tracking and caching, it
// is not an authentication factor.
func Fingerprint(h http.Header) string {
	var b strings.Builder
	for i, name := range fingerprintHeaders {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(h.Get(name))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}
