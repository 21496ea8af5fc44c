package cdp

import (
	"testing"

	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
)

func TestTabRegistryRegisterAndList(t *testing.T) {
	r := NewTabRegistry()
	r.Register(target.ID("BBBBBBBB1111"), "https://robinhood.com/stocks/AAPL")
	r.Register(target.ID("AAAAAAAA2222"), "https://robinhood.com/")
	r.Register(target.ID("BBBBBBBB1111"), "https://robinhood.com/stocks/MSFT")

	assert.Equal(t, 2, r.Count())
	tabs := r.List()
	assert.Equal(t, "AAAAAAAA2222", tabs[0].TargetID)
	assert.Equal(t, "AAAAAAAA", tabs[0].ShortID)
	assert.Equal(t, "https://robinhood.com/stocks/MSFT", tabs[1].URL)

	r.Remove(target.ID("AAAAAAAA2222"))
	_, ok := r.Get(target.ID("AAAAAAAA2222"))
	assert.False(t, ok)
}

func TestMatchesTabURL(t *testing.T) {
	c := NewClient("http://127.0.0.1:9220", "robinhood.com", nil, nil)
	assert.True(t, c.matchesTabURL("https://Robinhood.com/stocks/AAPL"))
	assert.False(t, c.matchesTabURL("https://example.com"))

	c = NewClient("http://127.0.0.1:9220", "", nil, nil)
	assert.True(t, c.matchesTabURL("about:blank"))
}

func TestAttachedCount(t *testing.T) {
	c := NewClient("http://127.0.0.1:9220", "robinhood.com", nil, nil)
	assert.Equal(t, 0, c.AttachedCount())

	c.attached[target.ID("T-1")] = &tabContext{}
	c.attached[target.ID("T-2")] = &tabContext{}
	assert.Equal(t, 2, c.AttachedCount())
}
