package cdptest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/go-json-experiment/json"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// NewServer serves b over real websockets, so tests can go through
// cdpconn.Dial. The browser endpoint is at BrowserURL(srv).
func NewServer(b *Browser) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind, err := kindOf(r.URL.String())
		if err != nil {
			http.NotFound(w, r)
			return
		}

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		var wmu sync.Mutex
		ep := &Endpoint{Kind: kind, browser: b}
		ep.send = func(m *cdproto.Message) {
			buf, err := json.Marshal(m)
			if err != nil {
				return
			}
			wmu.Lock()
			defer wmu.Unlock()
			_ = wsutil.WriteServerText(conn, buf)
		}
		b.register(ep)

		for {
			data, err := wsutil.ReadClientText(conn)
			if err != nil {
				return
			}
			msg := new(cdproto.Message)
			if err := json.Unmarshal(data, msg); err != nil {
				continue
			}
			b.handle(ep, msg)
		}
	}))
}

// BrowserURL is the websocket address of the fake browser endpoint.
func BrowserURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/devtools/browser/fake"
}
