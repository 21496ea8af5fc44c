package capture

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	idsQueryPattern   = regexp.MustCompile(`(?i)[?&](?:ids|ids\[\]|ids%5B%5D|instrument_ids)=([^&#]+)`)
	quotesPathPattern = regexp.MustCompile(`/quotes/([^/?#]+)`)
	idSeparator       = regexp.MustCompile(`(?i)%2c|[,;]`)
)

// idQueryKeys are tried in order when reading identifiers from a query string.
var idQueryKeys = []string{"ids", "ids[]", "instrument_ids"}

// IsBrokerURL reports whether rawURL targets the brokerage API host.
func IsBrokerURL(rawURL, apiHost string) bool {
	if rawURL == "" || apiHost == "" {
		return false
	}
	return strings.Contains(strings.ToLower(rawURL), strings.ToLower(apiHost))
}

// IsQuotesURL reports whether rawURL looks like a quotes endpoint.
func IsQuotesURL(rawURL string) bool {
	return strings.Contains(rawURL, "/marketdata/quotes/") ||
		strings.Contains(rawURL, "/quotes/") ||
		(strings.Contains(rawURL, "/marketdata/") && strings.Contains(rawURL, "quote"))
}

// ExtractInstrumentIDs returns the decoded identifiers carried by a quotes URL.
// Query parameters win over a regex scan of the raw URL, which wins over the
// path segment after /quotes/.
func ExtractInstrumentIDs(rawURL string) []string {
	return splitIDs(rawIDBlob(rawURL))
}

func rawIDBlob(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		q := u.Query()
		for _, key := range idQueryKeys {
			if v := q.Get(key); v != "" {
				return v
			}
		}
	}
	if m := idsQueryPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	if m := quotesPathPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}

func splitIDs(blob string) []string {
	if blob == "" {
		return nil
	}
	parts := idSeparator.Split(blob, -1)
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if decoded, err := url.PathUnescape(part); err == nil {
			part = strings.TrimSpace(decoded)
		}
		if part == "" {
			continue
		}
		ids = append(ids, part)
	}
	return ids
}
