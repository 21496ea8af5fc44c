package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/go-resty/resty/v2"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var (
	errNotConnected = errors.New("rawcdp: not connected")
	errConnClosed   = errors.New("rawcdp: connection closed")
)

// rawCDP speaks CDP over the browser-level WebSocket. It attaches flat
// sessions, evaluates script and relays binding calls; network observation
// stays with the chromedp contexts in package cdp.
type rawCDP struct {
	devtoolsURL string
	client      *http.Client

	connMu sync.Mutex
	conn   net.Conn
	nextID atomic.Int64

	waitMu  sync.Mutex
	waiters map[int64]chan cdpReply

	subMu sync.RWMutex
	subs  map[string]map[int64]func(sessionID string, params json.RawMessage)
}

type cdpReply struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// inbound is any frame the browser sends: replies carry ID, events Method.
type inbound struct {
	cdpReply
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId"`
	Params    json.RawMessage `json:"params"`
}

func newRawCDP(devtoolsURL string) *rawCDP {
	return &rawCDP{
		devtoolsURL: strings.TrimRight(devtoolsURL, "/"),
		client:      &http.Client{Transport: http.DefaultTransport},
		waiters:     make(map[int64]chan cdpReply),
		subs:        make(map[string]map[int64]func(string, json.RawMessage)),
	}
}

func (r *rawCDP) connect(ctx context.Context) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil {
		return nil
	}

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := r.devtools(ctx, "/json/version", &version); err != nil {
		return fmt.Errorf("rawcdp: browser ws url: %w", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return errors.New("rawcdp: browser ws url: empty webSocketDebuggerUrl")
	}

	slog.Debug("rawcdp connecting", "ws_url", version.WebSocketDebuggerURL)
	conn, _, _, err := ws.Dial(ctx, version.WebSocketDebuggerURL)
	if err != nil {
		return fmt.Errorf("rawcdp: dial: %w", err)
	}
	r.conn = conn
	go r.read(conn)
	return nil
}

func (r *rawCDP) close() {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}

func (r *rawCDP) connected() bool {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	return r.conn != nil
}

func (r *rawCDP) read(conn net.Conn) {
	defer r.dropped(conn)
	for {
		frame, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("rawcdp read loop exit", "error", err)
			return
		}
		var msg inbound
		if json.Unmarshal(frame, &msg) != nil {
			continue
		}
		switch {
		case msg.ID > 0:
			if ch := r.takeWaiter(msg.ID); ch != nil {
				ch <- msg.cdpReply
			}
		case msg.Method != "":
			r.publish(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

// dropped forgets conn and fails every in-flight call made on it.
func (r *rawCDP) dropped(conn net.Conn) {
	r.connMu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.connMu.Unlock()

	r.waitMu.Lock()
	for id, ch := range r.waiters {
		close(ch)
		delete(r.waiters, id)
	}
	r.waitMu.Unlock()
}

func (r *rawCDP) takeWaiter(id int64) chan cdpReply {
	r.waitMu.Lock()
	defer r.waitMu.Unlock()
	ch := r.waiters[id]
	delete(r.waiters, id)
	return ch
}

// call sends method on sessionID ("" for the browser target) and decodes the
// result into out when out is non-nil.
func (r *rawCDP) call(ctx context.Context, sessionID, method string, params, out any) error {
	r.connMu.Lock()
	conn := r.conn
	r.connMu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	id := r.nextID.Add(1)
	frame, err := json.Marshal(struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{id, method, sessionID, params})
	if err != nil {
		return fmt.Errorf("rawcdp: marshal %s: %w", method, err)
	}

	ch := make(chan cdpReply, 1)
	r.waitMu.Lock()
	r.waiters[id] = ch
	r.waitMu.Unlock()

	r.connMu.Lock()
	err = wsutil.WriteClientText(conn, frame)
	r.connMu.Unlock()
	if err != nil {
		r.takeWaiter(id)
		return fmt.Errorf("rawcdp: send %s: %w", method, err)
	}

	var reply cdpReply
	select {
	case rep, ok := <-ch:
		if !ok {
			return errConnClosed
		}
		reply = rep
	case <-ctx.Done():
		r.takeWaiter(id)
		return ctx.Err()
	}

	if reply.Error != nil {
		return fmt.Errorf("rawcdp: %s: %s", method, reply.Error.Message)
	}
	if out == nil || len(reply.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Result, out); err != nil {
		return fmt.Errorf("rawcdp: decode %s: %w", method, err)
	}
	return nil
}

func (r *rawCDP) attachToTarget(ctx context.Context, targetID string) (string, error) {
	var res struct {
		SessionID string `json:"sessionId"`
	}
	err := r.call(ctx, "", "Target.attachToTarget", map[string]any{"targetId": targetID, "flatten": true}, &res)
	if err != nil {
		return "", err
	}
	if res.SessionID == "" {
		return "", errors.New("rawcdp: attach returned no session")
	}
	return res.SessionID, nil
}

// detachFromTarget leaves the tab open.
func (r *rawCDP) detachFromTarget(ctx context.Context, sessionID string) error {
	return r.call(ctx, "", "Target.detachFromTarget", map[string]string{"sessionId": sessionID}, nil)
}

// evaluate runs js in the session, awaiting promises, and returns the value.
// String values are returned unquoted; anything else as raw JSON.
func (r *rawCDP) evaluate(ctx context.Context, sessionID, js string) (string, error) {
	var res struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	params := map[string]any{"expression": js, "returnByValue": true, "awaitPromise": true}
	if err := r.call(ctx, sessionID, "Runtime.evaluate", params, &res); err != nil {
		return "", err
	}
	if res.ExceptionDetails != nil {
		return "", fmt.Errorf("rawcdp: eval exception: %s", res.ExceptionDetails.Text)
	}
	var s string
	if json.Unmarshal(res.Result.Value, &s) == nil {
		return s, nil
	}
	return string(res.Result.Value), nil
}

// addBinding exposes window.<name>(payload) in the session. Calls surface as
// Runtime.bindingCalled events.
func (r *rawCDP) addBinding(ctx context.Context, sessionID, name string) error {
	if err := r.call(ctx, sessionID, "Runtime.enable", nil, nil); err != nil {
		return err
	}
	return r.call(ctx, sessionID, "Runtime.addBinding", map[string]string{"name": name}, nil)
}

// listTargets reads the DevTools /json/list endpoint.
func (r *rawCDP) listTargets(ctx context.Context) ([]*target.Info, error) {
	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := r.devtools(ctx, "/json/list", &entries); err != nil {
		return nil, err
	}
	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{TargetID: target.ID(e.ID), Type: e.Type, Title: e.Title, URL: e.URL})
	}
	return out, nil
}

func (r *rawCDP) devtools(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := resty.NewWithClient(r.client).R().
		SetContext(ctx).
		Get(r.devtoolsURL + path)
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("rawcdp: %s: HTTP %d", path, resp.StatusCode())
	}
	// Chrome labels these responses inconsistently; decode regardless.
	return json.Unmarshal(resp.Body(), out)
}

// registerEventHandler subscribes fn to a CDP event and returns the
// function that removes it.
func (r *rawCDP) registerEventHandler(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := r.nextID.Add(1)
	r.subMu.Lock()
	if r.subs[method] == nil {
		r.subs[method] = make(map[int64]func(string, json.RawMessage))
	}
	r.subs[method][id] = fn
	r.subMu.Unlock()
	return func() {
		r.subMu.Lock()
		delete(r.subs[method], id)
		r.subMu.Unlock()
	}
}

func (r *rawCDP) publish(method, sessionID string, params json.RawMessage) {
	r.subMu.RLock()
	fns := make([]func(string, json.RawMessage), 0, len(r.subs[method]))
	for _, fn := range r.subs[method] {
		fns = append(fns, fn)
	}
	r.subMu.RUnlock()
	for _, fn := range fns {
		fn(sessionID, params)
	}
}
