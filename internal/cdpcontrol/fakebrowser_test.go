package cdpcontrol

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// fakeBrowser serves the DevTools HTTP endpoints and a browser WebSocket
// that answers the handful of commands the client sends.
type fakeBrowser struct {
	srv      *httptest.Server
	evaluate func(expression string) string

	mu      sync.Mutex
	targets []map[string]string
	methods []string
	conn    net.Conn
	writeMu sync.Mutex
}

func newFakeBrowser(t *testing.T, evaluate func(expression string) string) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{
		evaluate: evaluate,
		targets: []map[string]string{
			{"id": "T-1", "type": "page", "url": "https://robinhood.com/stocks/AAPL", "title": "Robinhood"},
			{"id": "T-0", "type": "page", "url": "https://example.com/", "title": "Other"},
			{"id": "W-1", "type": "service_worker", "url": "https://robinhood.com/sw.js"},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/fake",
		})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		_ = json.NewEncoder(w).Encode(fb.targets)
	})
	mux.HandleFunc("/devtools/browser/fake", fb.serveWS)

	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBrowser) URL() string { return fb.srv.URL }

func (fb *fakeBrowser) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	fb.mu.Lock()
	fb.conn = conn
	fb.mu.Unlock()
	defer conn.Close()

	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var msg struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		fb.mu.Lock()
		fb.methods = append(fb.methods, msg.Method)
		fb.mu.Unlock()

		var result any = map[string]any{}
		switch msg.Method {
		case "Target.attachToTarget":
			result = map[string]any{"sessionId": "S-1"}
		case "Runtime.evaluate":
			var p struct {
				Expression string `json:"expression"`
			}
			_ = json.Unmarshal(msg.Params, &p)
			result = map[string]any{"result": map[string]any{"type": "string", "value": fb.evaluate(p.Expression)}}
		}
		fb.write(map[string]any{"id": msg.ID, "result": result})
	}
}

func (fb *fakeBrowser) write(v any) {
	fb.mu.Lock()
	conn := fb.conn
	fb.mu.Unlock()
	if conn == nil {
		return
	}
	data, _ := json.Marshal(v)
	fb.writeMu.Lock()
	defer fb.writeMu.Unlock()
	_ = wsutil.WriteServerText(conn, data)
}

func (fb *fakeBrowser) emit(method string, params any) {
	fb.write(map[string]any{"method": method, "sessionId": "S-1", "params": params})
}

func (fb *fakeBrowser) called(method string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	n := 0
	for _, m := range fb.methods {
		if m == method {
			n++
		}
	}
	return n
}
