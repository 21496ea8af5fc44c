// Package cdpcontrol evaluates script inside the brokerage tab: the native
// in-page fetch transport and the injected control panel.
package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
)

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"no session",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"not connected",
}

type tabSession struct {
	info      PageInfo
	mu        sync.Mutex
	sessionID string
	bindings  map[string]bool
}

type Client struct {
	cdpURL      string
	tabFilter   string
	evalTimeout time.Duration

	mu   sync.Mutex
	cdp  *rawCDP
	tabs map[target.ID]*tabSession

	// evalMu serialises evaluations so page-side fetches keep request order.
	evalMu sync.Mutex

	bindingMu sync.RWMutex
	bindings  map[string]func(payload string)
	unbind    func()
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func NewClient(cdpURL, tabFilter string, evalTimeout time.Duration) *Client {
	return &Client{
		cdpURL:      cdpURL,
		tabFilter:   strings.ToLower(strings.TrimSpace(tabFilter)),
		evalTimeout: evalTimeout,
		tabs:        make(map[target.ID]*tabSession),
		bindings:    make(map[string]func(string)),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}
	c.unbind = c.cdp.registerEventHandler("Runtime.bindingCalled", c.onBindingCalled)

	if err := c.syncTabsLocked(ctx); err != nil {
		slog.Error("cdpcontrol initial tab sync failed", "error", err)
		c.cleanupLocked()
		return err
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "tabs", len(c.tabs))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	if c.cdp != nil {
		for targetID, session := range c.tabs {
			if session == nil {
				continue
			}
			session.mu.Lock()
			if session.sessionID != "" && c.cdp.connected() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := c.cdp.detachFromTarget(ctx, session.sessionID); err != nil {
					slog.Debug("cdpcontrol detach cleanup failed", "target_id", targetID, "error", err)
				}
				cancel()
			}
			session.sessionID = ""
			session.mu.Unlock()
		}
		if c.unbind != nil {
			c.unbind()
			c.unbind = nil
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.tabs = make(map[target.ID]*tabSession)
}

// ListPages returns the brokerage tabs currently open, ordered by target ID.
func (c *Client) ListPages(ctx context.Context) ([]PageInfo, error) {
	if err := c.refreshTabs(ctx); err != nil {
		slog.Warn("cdpcontrol list pages failed", "error", err)
		return nil, err
	}
	return c.pages(), nil
}

func (c *Client) pages() []PageInfo {
	c.mu.Lock()
	pages := make([]PageInfo, 0, len(c.tabs))
	for _, s := range c.tabs {
		if s != nil {
			pages = append(pages, s.info)
		}
	}
	c.mu.Unlock()

	sort.Slice(pages, func(i, j int) bool {
		return pages[i].TargetID < pages[j].TargetID
	})
	return pages
}

// evalOnPage evaluates js on the first brokerage tab, retrying once after a
// reconnect or tab refresh when the failure looks transient.
func (c *Client) evalOnPage(ctx context.Context, js string, out any) error {
	c.evalMu.Lock()
	defer c.evalMu.Unlock()

	session, err := c.resolvePage(ctx)
	if err == nil {
		err = c.evalOnSession(ctx, session, js, out)
	}
	if err == nil {
		return nil
	}
	if !c.shouldRetry(err) {
		return err
	}

	slog.Warn("cdpcontrol eval retry after transient failure", "error", err)
	if c.asCode(err, CodeCDPUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("cdpcontrol reconnect failed during retry", "error", recErr)
			return recErr
		}
	} else if syncErr := c.refreshTabs(ctx); syncErr != nil {
		slog.Warn("cdpcontrol tab refresh failed during retry", "error", syncErr)
	}

	session, err = c.resolvePage(ctx)
	if err != nil {
		return err
	}
	return c.evalOnSession(ctx, session, js, out)
}

// evalOnEveryPage evaluates js on each brokerage tab and returns how many
// evaluations succeeded.
func (c *Client) evalOnEveryPage(ctx context.Context, js string) (int, error) {
	if err := c.refreshTabs(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	sessions := make([]*tabSession, 0, len(c.tabs))
	for _, s := range c.tabs {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	ok := 0
	var lastErr error
	for _, s := range sessions {
		if err := c.evalOnSession(ctx, s, js, nil); err != nil {
			lastErr = err
			continue
		}
		ok++
	}
	if ok == 0 && lastErr != nil {
		return 0, lastErr
	}
	return ok, nil
}

func (c *Client) evalOnSession(ctx context.Context, session *tabSession, js string, out any) error {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	sessionID, err := c.ensureSession(ctx, cdp, session)
	if err != nil {
		return err
	}

	evalCtx, evalCancel := context.WithTimeout(ctx, c.evalTimeout)
	defer evalCancel()

	raw, err := cdp.evaluate(evalCtx, sessionID, js)
	if err != nil {
		slog.Warn("cdpcontrol eval failed", "target_id", session.info.TargetID, "error", err)
		// Reset so a fresh attach happens on retry.
		session.mu.Lock()
		session.sessionID = ""
		session.bindings = nil
		session.mu.Unlock()

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}

	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

// ensureSession returns a CDP session ID for the tab, attaching if needed.
// Registered bindings are added to every new session.
func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, session *tabSession) (string, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.sessionID == "" {
		sid, err := cdp.attachToTarget(ctx, session.info.TargetID)
		if err != nil {
			return "", newError(CodeCDPUnavailable, "attach to target failed", err)
		}
		session.sessionID = sid
		session.bindings = nil
		slog.Debug("cdpcontrol session attached", "target_id", session.info.TargetID, "session_id", sid)
	}

	for _, name := range c.bindingNames() {
		if session.bindings[name] {
			continue
		}
		if err := cdp.addBinding(ctx, session.sessionID, name); err != nil {
			return "", newError(CodeEvalFailure, "add binding failed", err)
		}
		if session.bindings == nil {
			session.bindings = make(map[string]bool)
		}
		session.bindings[name] = true
	}
	return session.sessionID, nil
}

func (c *Client) resolvePage(ctx context.Context) (*tabSession, error) {
	if session := c.firstSession(); session != nil {
		return session, nil
	}
	if err := c.refreshTabs(ctx); err != nil {
		return nil, err
	}
	if session := c.firstSession(); session != nil {
		return session, nil
	}
	return nil, newError(CodeTabNotFound, "no brokerage tab open (filter "+c.tabFilter+")", nil)
}

func (c *Client) firstSession() *tabSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first *tabSession
	for id, s := range c.tabs {
		if s == nil {
			continue
		}
		if first == nil || string(id) < first.info.TargetID {
			first = s
		}
	}
	return first
}

func (c *Client) refreshTabs(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncTabsLocked(ctx)
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) syncTabsLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}

	expected := make(map[target.ID]PageInfo)
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if c.tabFilter != "" && !strings.Contains(strings.ToLower(t.URL), c.tabFilter) {
			continue
		}
		expected[t.TargetID] = PageInfo{
			TargetID: string(t.TargetID),
			URL:      t.URL,
			Title:    t.Title,
		}
	}

	for targetID := range c.tabs {
		if _, ok := expected[targetID]; !ok {
			delete(c.tabs, targetID)
		}
	}
	for targetID, info := range expected {
		if session := c.tabs[targetID]; session != nil {
			session.info = info
			continue
		}
		c.tabs[targetID] = &tabSession{info: info}
	}

	slog.Debug("cdpcontrol tab sync", "targets", len(targets), "pages", len(c.tabs))
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.cdp != nil && c.cdp.connected()
	c.mu.Unlock()
	if connected {
		return nil
	}
	return c.reconnect(ctx)
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}

	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodeEvalFailure:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func (c *Client) asCode(err error, code string) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}

// Bind registers fn for calls to window.<name>(payload) made by page script.
func (c *Client) Bind(name string, fn func(payload string)) {
	c.bindingMu.Lock()
	c.bindings[name] = fn
	c.bindingMu.Unlock()
}

func (c *Client) bindingNames() []string {
	c.bindingMu.RLock()
	defer c.bindingMu.RUnlock()
	names := make([]string, 0, len(c.bindings))
	for name := range c.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Client) onBindingCalled(_ string, params json.RawMessage) {
	var ev struct {
		Name    string `json:"name"`
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(params, &ev); err != nil {
		return
	}
	c.bindingMu.RLock()
	fn := c.bindings[ev.Name]
	c.bindingMu.RUnlock()
	if fn == nil {
		return
	}
	// Handlers run off the read loop so they may evaluate script themselves.
	go fn(ev.Payload)
}

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func buildIIFE(async bool, body string) string {
	prefix := "(function(){\n"
	if async {
		prefix = "(async function(){\n"
	}
	return prefix + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

func wrapJSEval(body string) string      { return buildIIFE(false, body) }
func wrapJSEvalAsync(body string) string { return buildIIFE(true, body) }
