package capture

import (
	"crypto/sha256"
	"encoding/hex"
)

func truncateBytes(in []byte, maxBytes int) ([]byte, bool, int, string) {
	if maxBytes <= 0 || len(in) <= maxBytes {
		return in, false, len(in), ""
	}
	sum := sha256.Sum256(in)
	return in[:maxBytes], true, len(in), hex.EncodeToString(sum[:])
}

// clipBody fills the body fields of a journal record.
func clipBody(rec *observedRecord, body []byte, maxBytes int) {
	out, truncated, size, sum := truncateBytes(body, maxBytes)
	rec.Body = string(out)
	rec.Truncated = truncated
	rec.OriginalSize = size
	rec.SHA256 = sum
}
