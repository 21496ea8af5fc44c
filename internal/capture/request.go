package capture

import (
	"net/http"
	"strings"

	"github.com/chromedp/cdproto/network"
)

// HeaderSource is a read-only view over request headers. Lookups are
// case-insensitive regardless of how the underlying headers were built.
type HeaderSource interface {
	Lookup(name string) (string, bool)
}

// HeaderMap is a plain key/value header set whose keys keep the caller's casing.
type HeaderMap map[string]string

func (h HeaderMap) Lookup(name string) (string, bool) {
	if v, ok := h[name]; ok {
		return v, true
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// HeaderContainer is a canonicalizing header container.
type HeaderContainer http.Header

func (h HeaderContainer) Lookup(name string) (string, bool) {
	if vals := http.Header(h).Values(name); len(vals) > 0 {
		return vals[0], true
	}
	// Containers filled by direct map assignment skip canonicalization.
	for k, vals := range h {
		if strings.EqualFold(k, name) && len(vals) > 0 {
			return vals[0], true
		}
	}
	return "", false
}

// layered resolves a header from the first source that has it.
type layered []HeaderSource

func (l layered) Lookup(name string) (string, bool) {
	for _, src := range l {
		if src == nil {
			continue
		}
		if v, ok := src.Lookup(name); ok {
			return v, true
		}
	}
	return "", false
}

// HeaderMapFromCDP flattens CDP's loosely typed header object.
func HeaderMapFromCDP(headers network.Headers) HeaderMap {
	out := make(HeaderMap, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// RequestInput is one of the call shapes a primitive can be invoked with.
type RequestInput interface {
	normalize() (method, rawURL string, headers HeaderSource)
}

// URLRequest is a call made with a URL string plus optional headers.
type URLRequest struct {
	Method  string
	URL     string
	Headers HeaderSource
}

func (r URLRequest) normalize() (string, string, HeaderSource) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	return method, r.URL, r.Headers
}

// StructuredRequest is a call made with a request object. Init headers, when
// present, take precedence over the request's own headers.
type StructuredRequest struct {
	Request *http.Request
	Init    HeaderSource
}

func (r StructuredRequest) normalize() (string, string, HeaderSource) {
	if r.Request == nil {
		return http.MethodGet, "", r.Init
	}
	method := r.Request.Method
	if method == "" {
		method = http.MethodGet
	}
	rawURL := ""
	if r.Request.URL != nil {
		rawURL = r.Request.URL.String()
	}
	var headers HeaderSource = HeaderContainer(r.Request.Header)
	if r.Init != nil {
		headers = layered{r.Init, headers}
	}
	return method, rawURL, headers
}

// Authorization returns the Authorization header of a normalized call.
func Authorization(headers HeaderSource) string {
	if headers == nil {
		return ""
	}
	v, _ := headers.Lookup("Authorization")
	return strings.TrimSpace(v)
}

// redactedHeaders copies headers for the journal, masking credentials.
func redactedHeaders(headers HeaderSource, names ...string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		v, ok := headers.Lookup(name)
		if !ok {
			continue
		}
		if strings.EqualFold(name, "Authorization") && v != "" {
			v = "Bearer <redacted>"
		}
		out[name] = v
	}
	return out
}
