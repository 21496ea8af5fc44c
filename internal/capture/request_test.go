package capture

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderLookupIsCaseInsensitive(t *testing.T) {
	plain := HeaderMap{"authorization": "Bearer a"}
	v, ok := plain.Lookup("Authorization")
	assert.True(t, ok)
	assert.Equal(t, "Bearer a", v)

	container := HeaderContainer(http.Header{})
	http.Header(container).Set("AUTHORIZATION", "Bearer b")
	v, ok = container.Lookup("authorization")
	assert.True(t, ok)
	assert.Equal(t, "Bearer b", v)

	raw := HeaderContainer{"authorization": {"Bearer c"}}
	v, ok = raw.Lookup("Authorization")
	assert.True(t, ok)
	assert.Equal(t, "Bearer c", v)
}

func TestStructuredRequestInitOverridesRequestHeaders(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "https://api.robinhood.com/quotes/x/", nil)
	assert.NoError(t, err)
	req.Header.Set("Authorization", "Bearer from-request")

	method, rawURL, headers := StructuredRequest{Request: req, Init: HeaderMap{"authorization": "Bearer from-init"}}.normalize()
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "https://api.robinhood.com/quotes/x/", rawURL)
	assert.Equal(t, "Bearer from-init", Authorization(headers))

	_, _, headers = StructuredRequest{Request: req}.normalize()
	assert.Equal(t, "Bearer from-request", Authorization(headers))
}

func TestURLRequestDefaults(t *testing.T) {
	method, rawURL, headers := URLRequest{URL: "https://x"}.normalize()
	assert.Equal(t, http.MethodGet, method)
	assert.Equal(t, "https://x", rawURL)
	assert.Equal(t, "", Authorization(headers))
}

func TestRedactedHeadersMasksToken(t *testing.T) {
	got := redactedHeaders(HeaderMap{"Authorization": "Bearer secret", "Accept": "*/*"}, "Authorization", "Accept", "X-Missing")
	assert.Equal(t, map[string]string{"Authorization": "Bearer <redacted>", "Accept": "*/*"}, got)
}
