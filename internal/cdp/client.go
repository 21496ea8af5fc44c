// Package cdp attaches the passive network observer to brokerage tabs.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/capture"
)

// Client keeps one chromedp context per observed tab. AttachNew is called
// periodically so tabs opened after start-up are picked up.
type Client struct {
	cdpURL    string
	tabFilter string
	observer  *capture.NetworkObserver
	tabs      *TabRegistry

	mu            sync.Mutex
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	attached      map[target.ID]*tabContext
}

type tabContext struct {
	id     target.ID
	ctx    context.Context
	cancel context.CancelFunc
}

func NewClient(cdpURL, tabFilter string, observer *capture.NetworkObserver, tabs *TabRegistry) *Client {
	if tabs == nil {
		tabs = NewTabRegistry()
	}
	return &Client{
		cdpURL:    cdpURL,
		tabFilter: tabFilter,
		observer:  observer,
		tabs:      tabs,
		attached:  make(map[target.ID]*tabContext),
	}
}

func (c *Client) Tabs() *TabRegistry {
	return c.tabs
}

// AttachNew attaches to matching page targets not yet observed, drops tabs
// that have gone away, and returns how many tabs were newly attached.
func (c *Client) AttachNew(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(); err != nil {
		return 0, err
	}

	targets, err := chromedp.Targets(c.browserCtx)
	if err != nil {
		c.resetLocked()
		return 0, fmt.Errorf("failed to enumerate targets: %w", err)
	}

	live := make(map[target.ID]bool, len(targets))
	attached := 0
	for _, t := range targets {
		if t.Type != "page" || !c.matchesTabURL(t.URL) {
			continue
		}
		live[t.TargetID] = true
		if _, ok := c.attached[t.TargetID]; ok {
			continue
		}
		if err := c.attachToTab(t.TargetID, t.URL); err != nil {
			slog.Error("Failed to attach to tab", "target_id", t.TargetID, "url", truncateURL(t.URL), "error", err)
			continue
		}
		attached++
	}

	for id, tab := range c.attached {
		if !live[id] {
			tab.cancel()
			delete(c.attached, id)
			c.tabs.Remove(id)
			slog.Info("Detached from closed tab", "target_id", id)
		}
	}

	return attached, nil
}

func (c *Client) connectLocked() error {
	if c.browserCtx != nil && c.browserCtx.Err() == nil {
		return nil
	}
	c.resetLocked()

	slog.Info("Connecting to Chromium", "url", c.cdpURL)
	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), c.cdpURL)
	c.browserCtx, c.browserCancel = chromedp.NewContext(c.allocCtx)
	if err := chromedp.Run(c.browserCtx); err != nil {
		c.resetLocked()
		return fmt.Errorf("failed to connect to browser: %w", err)
	}
	return nil
}

func (c *Client) resetLocked() {
	for id, tab := range c.attached {
		tab.cancel()
		c.tabs.Remove(id)
	}
	c.attached = make(map[target.ID]*tabContext)
	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	c.browserCtx, c.browserCancel = nil, nil
	c.allocCtx, c.allocCancel = nil, nil
}

func (c *Client) attachToTab(targetID target.ID, url string) error {
	tabCtx, tabCancel := chromedp.NewContext(c.browserCtx, chromedp.WithTargetID(targetID))

	if err := chromedp.Run(tabCtx, network.Enable(), page.Enable()); err != nil {
		tabCancel()
		return fmt.Errorf("failed to enable network/page domains: %w", err)
	}

	info := c.tabs.Register(targetID, url)
	tab := &tabContext{id: targetID, ctx: tabCtx, cancel: tabCancel}
	c.attached[targetID] = tab

	chromedp.ListenTarget(tabCtx, c.createEventHandler(tab))
	slog.Info("Attached to tab", "target_id", targetID, "short_id", info.ShortID, "url", truncateURL(url))
	return nil
}

func (c *Client) createEventHandler(tab *tabContext) func(ev interface{}) {
	tabID := string(tab.id)
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame != nil && e.Frame.ParentID == "" {
				c.tabs.Register(tab.id, e.Frame.URL)
				slog.Debug("Tab navigated (full)", "tab_id", tabID, "url", truncateURL(e.Frame.URL))
			}
		case *page.EventNavigatedWithinDocument:
			c.tabs.Register(tab.id, e.URL)
			slog.Debug("Tab navigated (SPA)", "tab_id", tabID, "url", truncateURL(e.URL))
		case *network.EventRequestWillBeSent:
			c.observer.OnRequestWillBeSent(tabID, e)
		case *network.EventRequestWillBeSentExtraInfo:
			c.observer.OnRequestWillBeSentExtraInfo(tabID, e)
		case *network.EventResponseReceived:
			c.observer.OnResponseReceived(tabID, e)
		case *network.EventLoadingFinished:
			requestID := e.RequestID
			getBody := func() ([]byte, error) {
				bodyCtx, bodyCancel := context.WithTimeout(tab.ctx, 10*time.Second)
				defer bodyCancel()

				var body []byte
				err := chromedp.Run(bodyCtx, chromedp.ActionFunc(func(ctx context.Context) error {
					var err error
					body, err = network.GetResponseBody(requestID).Do(ctx)
					return err
				}))
				return body, err
			}
			c.observer.OnLoadingFinished(tabID, e, getBody)
		case *network.EventLoadingFailed:
			c.observer.OnLoadingFailed(tabID, e)
		}
	}
}

// Close detaches from every tab and drops the browser connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	slog.Info("CDP client closed")
	return nil
}

func (c *Client) AttachedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.attached)
}

func (c *Client) matchesTabURL(url string) bool {
	if c.tabFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(c.tabFilter))
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
