package capture

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// maxObservedBody bounds how much of a quotes response is buffered while the
// caller reads it. Larger bodies are passed through unobserved.
const maxObservedBody = 8 << 20

// Transport is an observation-only RoundTripper. Requests and responses reach
// the caller unchanged; response bodies of quotes calls are teed as the
// caller consumes them.
type Transport struct {
	base        http.RoundTripper
	interceptor *Interceptor
}

// WrapTransport decorates base with the interceptor. Wrapping an already
// wrapped transport returns it as is.
func WrapTransport(base http.RoundTripper, in *Interceptor) http.RoundTripper {
	if IsWrapped(base) {
		return base
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, interceptor: in}
}

func IsWrapped(rt http.RoundTripper) bool {
	_, ok := rt.(*Transport)
	return ok
}

// Unwrap returns the decorated transport.
func (t *Transport) Unwrap() http.RoundTripper {
	return t.base
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	obs := t.interceptor.ObserveRequest(PrimitiveTransport, StructuredRequest{Request: req})

	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil || resp.Body == nil || !obs.Quotes {
		return resp, err
	}

	status := resp.StatusCode
	resp.Body = &observedBody{
		ReadCloser: resp.Body,
		limit:      maxObservedBody,
		done: func(body []byte) {
			go t.interceptor.ObserveResponse(obs, status, body)
		},
	}
	return resp, nil
}

// observedBody copies bytes as the caller reads them and reports the full
// body once EOF is reached. Bodies closed early are never reported.
type observedBody struct {
	io.ReadCloser
	limit    int
	done     func([]byte)
	mu       sync.Mutex
	buf      bytes.Buffer
	overflow bool
	once     sync.Once
}

func (b *observedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.mu.Lock()
	if n > 0 && !b.overflow {
		if b.buf.Len()+n > b.limit {
			b.overflow = true
			b.buf.Reset()
		} else {
			b.buf.Write(p[:n])
		}
	}
	b.mu.Unlock()
	if err == io.EOF {
		b.finish()
	}
	return n, err
}

func (b *observedBody) finish() {
	b.once.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.overflow {
			return
		}
		body := make([]byte, b.buf.Len())
		copy(body, b.buf.Bytes())
		b.done(body)
	})
}
