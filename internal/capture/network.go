package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// NetworkObserver feeds CDP network events from browser tabs to the
// interceptor. It is the event-driven counterpart of Transport.
type NetworkObserver struct {
	interceptor *Interceptor

	pending   map[network.RequestID]*pendingCall
	pendingMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

type pendingCall struct {
	obs       Observation
	status    int
	timestamp time.Time
}

func NewNetworkObserver(in *Interceptor) *NetworkObserver {
	n := &NetworkObserver{
		interceptor: in,
		pending:     make(map[network.RequestID]*pendingCall),
		done:        make(chan struct{}),
	}
	go n.cleanupLoop()
	return n
}

func (n *NetworkObserver) Close() {
	n.closeOnce.Do(func() { close(n.done) })
}

func (n *NetworkObserver) OnRequestWillBeSent(tabID string, ev *network.EventRequestWillBeSent) {
	if ev == nil || ev.Request == nil {
		return
	}
	// Static assets never carry API credentials or quotes.
	if ev.Type != "" && !apiResource(ev.Type) {
		return
	}

	obs := n.interceptor.ObserveRequest(PrimitiveNetwork, URLRequest{
		Method:  ev.Request.Method,
		URL:     ev.Request.URL,
		Headers: HeaderMapFromCDP(ev.Request.Headers),
	})
	if !obs.BrokerAPI {
		return
	}
	obs.RequestID = string(ev.RequestID)
	obs.TabID = tabID

	n.pendingMu.Lock()
	n.pending[ev.RequestID] = &pendingCall{obs: obs, timestamp: time.Now()}
	n.pendingMu.Unlock()
}

// OnRequestWillBeSentExtraInfo offers the wire-level headers of a tracked
// brokerage call to the token cache. Chrome only exposes some credential
// headers through this event.
func (n *NetworkObserver) OnRequestWillBeSentExtraInfo(tabID string, ev *network.EventRequestWillBeSentExtraInfo) {
	if ev == nil {
		return
	}
	n.pendingMu.Lock()
	_, tracked := n.pending[ev.RequestID]
	n.pendingMu.Unlock()
	if !tracked {
		return
	}
	n.interceptor.OfferHeaders(PrimitiveNetwork, HeaderMapFromCDP(ev.Headers))
}

func (n *NetworkObserver) OnResponseReceived(tabID string, ev *network.EventResponseReceived) {
	if ev == nil || ev.Response == nil {
		return
	}
	n.pendingMu.Lock()
	if p, ok := n.pending[ev.RequestID]; ok {
		p.status = int(ev.Response.Status)
	}
	n.pendingMu.Unlock()
}

// OnLoadingFinished fetches the body of a finished quotes call through
// getBody and hands it to the interceptor off the event goroutine.
func (n *NetworkObserver) OnLoadingFinished(tabID string, ev *network.EventLoadingFinished, getBody func() ([]byte, error)) {
	if ev == nil {
		return
	}
	n.pendingMu.Lock()
	p, ok := n.pending[ev.RequestID]
	if ok {
		delete(n.pending, ev.RequestID)
	}
	n.pendingMu.Unlock()

	if !ok || !p.obs.Quotes || getBody == nil {
		return
	}

	go func() {
		body, err := getBody()
		if err != nil {
			slog.Debug("Failed to get response body",
				"request_id", ev.RequestID,
				"tab_id", tabID,
				"error", err)
			return
		}
		n.interceptor.ObserveResponse(p.obs, p.status, body)
	}()
}

func (n *NetworkObserver) OnLoadingFailed(tabID string, ev *network.EventLoadingFailed) {
	if ev == nil {
		return
	}
	n.pendingMu.Lock()
	delete(n.pending, ev.RequestID)
	n.pendingMu.Unlock()
}

// Pending reports how many calls are awaiting completion.
func (n *NetworkObserver) Pending() int {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	return len(n.pending)
}

func (n *NetworkObserver) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.cleanupStale(time.Now().Add(-5 * time.Minute))
		case <-n.done:
			return
		}
	}
}

func (n *NetworkObserver) cleanupStale(threshold time.Time) {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()

	for id, p := range n.pending {
		if p.timestamp.Before(threshold) {
			delete(n.pending, id)
		}
	}
}

// apiResource reports whether a CDP resource type can be an API call.
func apiResource(t network.ResourceType) bool {
	switch t {
	case network.ResourceTypeXHR, network.ResourceTypeFetch, network.ResourceTypePreflight:
		return true
	}
	return false
}
