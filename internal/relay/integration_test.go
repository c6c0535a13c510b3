package relay_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devtunnel/internal/client"
	"github.com/devtunnel/internal/protocol"
	"github.com/devtunnel/internal/relay"
)

// _free_port grabs an ephemeral port and releases it for reuse.
func _free_port(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// _start_relay boots a relay on a free port and returns its base url.
func _start_relay(t *testing.T, mutate func(*relay.Config)) string {
	t.Helper()
	cfg := &relay.Config{
		Port:             _free_port(t),
		MaxTunnels:       10,
		RequestTimeoutMS: 2000,
		LogLevel:         "error",
		KeepalivePeriod:  time.Minute,
	}
	if mutate != nil {
		mutate(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go relay.NewServer(cfg).Run(ctx)

	// give the listener a moment to bind
	time.Sleep(100 * time.Millisecond)
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.Port)
}

// _start_backend runs a local http server and returns its port.
func _start_backend(t *testing.T, handler http.Handler) int {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	_, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("parsing backend addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

// _connect_client runs a controller against the relay and waits for the
// connected event.
func _connect_client(t *testing.T, base string, port int, subdomain string) client.Event {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.Relay.URL = "ws" + strings.TrimPrefix(base, "http") + "/tunnel"
	cfg.Local.Port = port
	cfg.Tunnel.Subdomain = subdomain

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-c.Events():
			if e.Kind == client.EventConnected {
				return e
			}
			if e.Kind == client.EventError {
				t.Fatalf("client error before connect: %v", e.Err)
			}
		case <-deadline:
			t.Fatal("client never connected")
		}
	}
}

// _raw_tunnel opens a bare control channel and returns the handshake
// reply, for tests that need a misbehaving client.
func _raw_tunnel(t *testing.T, base, query string) (*protocol.Codec, *protocol.Message) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(base, "http") + "/tunnel?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialling control channel: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	codec := protocol.NewCodec(conn)
	msg, err := codec.ReadMessage()
	if err != nil {
		t.Fatalf("reading handshake reply: %v", err)
	}
	return codec, msg
}

func Test_end_to_end_happy_path(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	backendPort := _start_backend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "hi")
	}))
	base := _start_relay(t, nil)

	connected := _connect_client(t, base, backendPort, "")

	slugShape := regexp.MustCompile(`^[a-z]+-[a-z]+-[0-9]{1,3}$`)
	if !slugShape.MatchString(connected.Subdomain) {
		t.Errorf("generated slug %q has unexpected shape", connected.Subdomain)
	}
	if connected.PublicURL != base+"/t/"+connected.Subdomain {
		t.Errorf("unexpected public url %q", connected.PublicURL)
	}

	resp, err := http.Get(connected.PublicURL + "/")
	if err != nil {
		t.Fatalf("visitor request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "hi" {
		t.Errorf("got %d %q, want 200 \"hi\"", resp.StatusCode, body)
	}
}

func Test_preferred_slug(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	backendPort := _start_backend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	base := _start_relay(t, nil)

	first := _connect_client(t, base, backendPort, "my-app")
	if !strings.HasSuffix(first.PublicURL, "/t/my-app") {
		t.Errorf("preferred slug not honoured: %q", first.PublicURL)
	}

	second := _connect_client(t, base, backendPort, "my-app")
	if second.Subdomain == "my-app" {
		t.Error("second tunnel must not share a live slug")
	}
	if second.Subdomain == "" {
		t.Error("second tunnel got no slug")
	}
}

func Test_html_rewrite_through_tunnel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	page := `<!doctype html><html><head><title>x</title></head><body>` +
		`<img src="/a.png"><script type="module">import x from "/m.js"</script></body></html>`

	backendPort := _start_backend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	}))
	base := _start_relay(t, nil)

	connected := _connect_client(t, base, backendPort, "")
	slug := connected.Subdomain

	resp, err := http.Get(connected.PublicURL + "/")
	if err != nil {
		t.Fatalf("visitor request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `<img src="/t/`+slug+`/a.png">`) {
		t.Errorf("img not rewritten:\n%s", body)
	}
	if !strings.Contains(string(body), `import x from "/t/`+slug+`/m.js"`) {
		t.Errorf("module import not rewritten:\n%s", body)
	}
	if !strings.Contains(string(body), "data-tunnel-shim") {
		t.Error("shim missing from rewritten page")
	}
	if cl := resp.Header.Get("Content-Length"); cl != strconv.Itoa(len(body)) {
		t.Errorf("content-length %s does not match body length %d", cl, len(body))
	}
}

func Test_request_timeout_returns_502(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	base := _start_relay(t, func(cfg *relay.Config) {
		cfg.RequestTimeoutMS = 200
	})

	// a client that handshakes but never answers requests
	_, connected := _raw_tunnel(t, base, "port=3000")
	if connected.Type != protocol.TypeConnected {
		t.Fatalf("handshake failed: %+v", connected)
	}

	resp, err := http.Get(base + "/t/" + connected.Subdomain + "/")
	if err != nil {
		t.Fatalf("visitor request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", resp.StatusCode)
	}
	want := "Failed to reach local server. Make sure your dev server is running."
	if strings.TrimSpace(string(body)) != want {
		t.Errorf("got body %q", body)
	}
}

func Test_teardown_releases_pending_and_slug(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	base := _start_relay(t, nil)
	codec, connected := _raw_tunnel(t, base, "port=3000&subdomain=doomed")
	if connected.Subdomain != "doomed" {
		t.Fatalf("expected preferred slug, got %q", connected.Subdomain)
	}

	type result struct {
		status  int
		body    string
		elapsed time.Duration
	}
	resCh := make(chan result, 1)
	go func() {
		start := time.Now()
		resp, err := http.Get(base + "/t/doomed/")
		if err != nil {
			resCh <- result{}
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		resCh <- result{resp.StatusCode, strings.TrimSpace(string(body)), time.Since(start)}
	}()

	// let the request reach the pending map, then kill the channel
	time.Sleep(100 * time.Millisecond)
	codec.Close()

	res := <-resCh
	if res.status != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", res.status)
	}
	if res.body != "Tunnel disconnected" {
		t.Errorf("got body %q", res.body)
	}
	if res.elapsed > time.Second {
		t.Errorf("teardown took too long to release the request: %v", res.elapsed)
	}

	// slug is gone immediately
	resp, err := http.Get(base + "/t/doomed/")
	if err != nil {
		t.Fatalf("lookup request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after teardown, got %d", resp.StatusCode)
	}

	// and reusable by a fresh handshake
	_, reconnected := _raw_tunnel(t, base, "port=3000&subdomain=doomed")
	if reconnected.Subdomain != "doomed" {
		t.Errorf("slug not reusable after teardown: got %q", reconnected.Subdomain)
	}
}

func Test_hop_by_hop_headers_stripped(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	base := _start_relay(t, nil)
	codec, connected := _raw_tunnel(t, base, "port=3000")

	// answer requests with hop-by-hop headers the visitor must not see
	go func() {
		for {
			msg, err := codec.ReadMessage()
			if err != nil {
				return
			}
			if msg.Type != protocol.TypeRequest {
				continue
			}
			codec.WriteMessage(protocol.NewResponse(msg.RequestID, 200, map[string]string{
				"X-App":      "1",
				"Keep-Alive": "timeout=5",
			}, []byte("ok")))
		}
	}()

	resp, err := http.Get(base + "/t/" + connected.Subdomain + "/")
	if err != nil {
		t.Fatalf("visitor request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("X-App") != "1" {
		t.Error("application header lost")
	}
	if resp.Header.Get("Keep-Alive") != "" {
		t.Error("keep-alive header leaked to the visitor")
	}
}

func Test_capacity_rejects_handshake(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	base := _start_relay(t, func(cfg *relay.Config) {
		cfg.MaxTunnels = 1
	})

	_, first := _raw_tunnel(t, base, "port=3000")
	if first.Type != protocol.TypeConnected {
		t.Fatalf("first handshake failed: %+v", first)
	}

	_, second := _raw_tunnel(t, base, "port=3000")
	if second.Type != protocol.TypeError {
		t.Fatalf("expected error frame, got %+v", second)
	}
}

func Test_malformed_handshake_rejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	base := _start_relay(t, nil)
	_, reply := _raw_tunnel(t, base, "port=nonsense")
	if reply.Type != protocol.TypeError {
		t.Fatalf("expected error frame, got %+v", reply)
	}
}

func Test_health_stats_and_pages(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	base := _start_relay(t, nil)
	_, connected := _raw_tunnel(t, base, "port=3000")
	if connected.Type != protocol.TypeConnected {
		t.Fatalf("handshake failed: %+v", connected)
	}

	var health struct {
		Status  string `json:"status"`
		Tunnels int    `json:"tunnels"`
	}
	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health.Status != "ok" || health.Tunnels != 1 {
		t.Errorf("unexpected health %+v", health)
	}

	var stats struct {
		ActiveTunnels int `json:"activeTunnels"`
		MaxTunnels    int `json:"maxTunnels"`
	}
	resp, err = http.Get(base + "/stats")
	if err != nil {
		t.Fatalf("stats request failed: %v", err)
	}
	json.NewDecoder(resp.Body).Decode(&stats)
	resp.Body.Close()
	if stats.ActiveTunnels != 1 || stats.MaxTunnels != 10 {
		t.Errorf("unexpected stats %+v", stats)
	}

	resp, err = http.Get(base + "/")
	if err != nil {
		t.Fatalf("status page request failed: %v", err)
	}
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(page), connected.Subdomain) {
		t.Errorf("status page missing tunnel: %d", resp.StatusCode)
	}

	resp, err = http.Get(base + "/no-such-path")
	if err != nil {
		t.Fatalf("landing request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 landing page, got %d", resp.StatusCode)
	}
}
