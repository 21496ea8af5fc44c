package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkObserverQuotesFlow(t *testing.T) {
	in, tokens, reg := newTestInterceptor(Options{})
	defer in.Close()
	obs := NewNetworkObserver(in)
	defer obs.Close()

	obs.OnRequestWillBeSent("tab-1", &network.EventRequestWillBeSent{
		RequestID: "r1",
		Type:      network.ResourceTypeFetch,
		Request: &network.Request{
			URL:     quotesURL,
			Method:  "GET",
			Headers: network.Headers{"authorization": "Bearer tab"},
		},
	})
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, 1, obs.Pending())

	obs.OnResponseReceived("tab-1", &network.EventResponseReceived{
		RequestID: "r1",
		Response:  &network.Response{Status: 200},
	})
	obs.OnLoadingFinished("tab-1", &network.EventLoadingFinished{RequestID: "r1"}, func() ([]byte, error) {
		return []byte(quotesBody), nil
	})

	assert.Equal(t, 0, obs.Pending())
	assert.Eventually(t, func() bool {
		inst, _ := reg.Get("id-1")
		return inst.Symbol == "AAPL"
	}, time.Second, 5*time.Millisecond)

	tok, _ := tokens.Get()
	assert.Equal(t, "Bearer tab", tok)
}

func TestNetworkObserverExtraInfoToken(t *testing.T) {
	in, tokens, _ := newTestInterceptor(Options{})
	defer in.Close()
	obs := NewNetworkObserver(in)
	defer obs.Close()

	obs.OnRequestWillBeSent("tab-1", &network.EventRequestWillBeSent{
		RequestID: "r2",
		Request:   &network.Request{URL: "https://api.robinhood.com/accounts/", Method: "GET"},
	})
	obs.OnRequestWillBeSentExtraInfo("tab-1", &network.EventRequestWillBeSentExtraInfo{
		RequestID: "r2",
		Headers:   network.Headers{"Authorization": "Bearer wire"},
	})
	obs.OnRequestWillBeSentExtraInfo("tab-1", &network.EventRequestWillBeSentExtraInfo{
		RequestID: "untracked",
		Headers:   network.Headers{"Authorization": "Bearer ignored"},
	})

	tok, ok := tokens.Get()
	require.True(t, ok)
	assert.Equal(t, "Bearer wire", tok)
}

func TestNetworkObserverSkipsStaticAndFailed(t *testing.T) {
	in, _, reg := newTestInterceptor(Options{})
	defer in.Close()
	obs := NewNetworkObserver(in)
	defer obs.Close()

	obs.OnRequestWillBeSent("tab-1", &network.EventRequestWillBeSent{
		RequestID: "img",
		Type:      network.ResourceTypeImage,
		Request:   &network.Request{URL: quotesURL},
	})
	assert.Equal(t, 0, reg.Len())

	obs.OnRequestWillBeSent("tab-1", &network.EventRequestWillBeSent{
		RequestID: "r3",
		Type:      network.ResourceTypeXHR,
		Request:   &network.Request{URL: quotesURL},
	})
	obs.OnLoadingFailed("tab-1", &network.EventLoadingFailed{RequestID: "r3"})
	assert.Equal(t, 0, obs.Pending())

	obs.OnRequestWillBeSent("tab-1", &network.EventRequestWillBeSent{
		RequestID: "r4",
		Request:   &network.Request{URL: quotesURL},
	})
	obs.OnLoadingFinished("tab-1", &network.EventLoadingFinished{RequestID: "r4"}, func() ([]byte, error) {
		return nil, errors.New("no body")
	})
	time.Sleep(10 * time.Millisecond)
	inst, _ := reg.Get("id-1")
	assert.Equal(t, "Loading...", inst.Symbol)
}

func TestNetworkObserverCleanupStale(t *testing.T) {
	in, _, _ := newTestInterceptor(Options{})
	defer in.Close()
	obs := NewNetworkObserver(in)
	defer obs.Close()

	obs.OnRequestWillBeSent("tab-1", &network.EventRequestWillBeSent{
		RequestID: "old",
		Request:   &network.Request{URL: quotesURL},
	})
	obs.cleanupStale(time.Now().Add(time.Minute))
	assert.Equal(t, 0, obs.Pending())
}

func TestAPIResource(t *testing.T) {
	assert.True(t, apiResource(network.ResourceTypeFetch))
	assert.True(t, apiResource(network.ResourceTypeXHR))
	assert.False(t, apiResource(network.ResourceTypeScript))
	assert.False(t, apiResource(network.ResourceTypeDocument))
}
