package capture

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

const quotesBody = `{"results":[{"instrument_id":"id-1","symbol":"AAPL"}]}`

func stubTransport(body string) roundTripFunc {
	return func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    req,
		}, nil
	}
}

func TestWrapTransportIsIdempotent(t *testing.T) {
	in, _, _ := newTestInterceptor(Options{})
	defer in.Close()

	once := WrapTransport(stubTransport(""), in)
	twice := WrapTransport(once, in)
	assert.Same(t, once, twice)
	assert.True(t, IsWrapped(twice))

	_, ok := WrapTransport(nil, in).(*Transport).Unwrap().(*http.Transport)
	assert.True(t, ok)
}

func TestTransportPassesBodyThroughAndObservesIt(t *testing.T) {
	in, tokens, reg := newTestInterceptor(Options{})
	defer in.Close()

	client := &http.Client{Transport: WrapTransport(stubTransport(quotesBody), in)}
	req, err := http.NewRequest(http.MethodGet, quotesURL, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer page")

	resp, err := client.Do(req)
	require.NoError(t, err)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, quotesBody, string(got))

	tok, _ := tokens.Get()
	assert.Equal(t, "Bearer page", tok)
	assert.Eventually(t, func() bool {
		inst, ok := reg.Get("id-1")
		return ok && inst.Symbol == "AAPL"
	}, time.Second, 5*time.Millisecond)
}

func TestTransportSkipsBodiesClosedEarly(t *testing.T) {
	in, _, reg := newTestInterceptor(Options{})
	defer in.Close()

	client := &http.Client{Transport: WrapTransport(stubTransport(quotesBody), in)}
	resp, err := client.Get(quotesURL)
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, _ = resp.Body.Read(buf)
	require.NoError(t, resp.Body.Close())

	time.Sleep(20 * time.Millisecond)
	inst, _ := reg.Get("id-1")
	assert.NotEqual(t, "AAPL", inst.Symbol)
}

func TestObservedBodyOverflow(t *testing.T) {
	called := false
	b := &observedBody{
		ReadCloser: io.NopCloser(strings.NewReader("0123456789")),
		limit:      4,
		done:       func([]byte) { called = true },
	}
	got, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(got))
	assert.False(t, called)
}

type countingAttacher struct{ calls int }

func (a *countingAttacher) AttachNew(context.Context) (int, error) {
	a.calls++
	if a.calls == 1 {
		return 1, nil
	}
	return 0, nil
}

func TestInstallerHooksOnce(t *testing.T) {
	in, _, _ := newTestInterceptor(Options{})
	defer in.Close()

	client := &http.Client{Transport: stubTransport("")}
	attacher := &countingAttacher{}

	inst := NewInstaller(in)
	inst.AddClient(client)
	inst.AddAttacher(attacher)

	assert.Equal(t, 2, inst.Install(context.Background()))
	wrapped := client.Transport
	assert.True(t, IsWrapped(wrapped))

	assert.Equal(t, 0, inst.Install(context.Background()))
	assert.Same(t, wrapped, client.Transport)
	assert.Equal(t, 2, attacher.calls)
}
