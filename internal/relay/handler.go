package relay

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/devtunnel/internal/protocol"
	"github.com/devtunnel/internal/rewrite"
)

// visitor-facing error bodies.
const (
	_body_tunnel_lost    = "Tunnel connection lost. Please try again."
	_body_unreachable    = "Failed to reach local server. Make sure your dev server is running."
	_body_disconnected   = "Tunnel disconnected"
	_body_internal_error = "Internal server error"
)

var _tunnel_path = regexp.MustCompile(`^/t/([^/]+)(/.*)?$`)

// response headers never echoed to the visitor.
var _hop_by_hop = map[string]bool{
	"transfer-encoding": true,
	"connection":        true,
	"keep-alive":        true,
}

// Handler serves everything outside the fixed endpoints: the status page
// at /, proxied visitor requests under /t/<slug>/, and the 404 landing
// page for the rest.
type Handler struct {
	cfg      *Config
	registry *Registry
	timeout  time.Duration
}

// NewHandler creates the visitor-facing handler.
func NewHandler(cfg *Config, registry *Registry) *Handler {
	return &Handler{
		cfg:      cfg,
		registry: registry,
		timeout:  cfg.RequestTimeout(),
	}
}

// ServeHTTP routes visitor traffic. a panic in a single exchange must not
// take down the listener or any tunnel.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("handler panic", "path", r.URL.Path, "panic", rec)
			http.Error(w, _body_internal_error, http.StatusInternalServerError)
		}
	}()

	if r.URL.Path == "/" {
		RenderStatusPage(w, h.registry, BaseURL(h.cfg, r))
		return
	}

	m := _tunnel_path.FindStringSubmatch(r.URL.Path)
	if m == nil {
		RenderLandingPage(w, http.StatusNotFound)
		return
	}
	slug := m[1]

	tunnel, ok := h.registry.Lookup(slug)
	if !ok {
		RenderLandingPage(w, http.StatusNotFound)
		return
	}
	if !tunnel.Alive() {
		http.Error(w, _body_tunnel_lost, http.StatusBadGateway)
		return
	}

	h._proxy(w, r, tunnel, m[2])
}

// _proxy performs one visitor exchange over the tunnel's control channel.
func (h *Handler) _proxy(w http.ResponseWriter, r *http.Request, tunnel *Tunnel, rest string) {
	path := rest
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	// request bodies are fully buffered; no streaming upload path
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			slog.Warn("reading visitor body failed", "slug", tunnel.Slug(), "err", err)
			http.Error(w, _body_internal_error, http.StatusInternalServerError)
			return
		}
		r.Body.Close()
	}

	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = strings.Join(v, ", ")
	}

	requestID := protocol.NewRequestID()
	msg := protocol.NewRequest(requestID, r.Method, path, headers, body)

	resp, err := tunnel.Dispatch(msg, h.timeout)
	if err != nil {
		h._write_dispatch_error(w, tunnel, requestID, err)
		return
	}

	h._write_response(w, tunnel, resp)
}

// _write_dispatch_error maps a dispatch failure to a visitor 502.
func (h *Handler) _write_dispatch_error(w http.ResponseWriter, tunnel *Tunnel, requestID string, err error) {
	body := _body_unreachable
	if errors.Is(err, ErrTunnelClosed) {
		body = _body_disconnected
	}
	slog.Warn("request failed", "slug", tunnel.Slug(), "request_id", requestID, "err", err)
	http.Error(w, body, http.StatusBadGateway)
}

// _write_response decodes the response frame, rewrites web content for the
// tunnel prefix, strips hop-by-hop headers, and replies to the visitor.
func (h *Handler) _write_response(w http.ResponseWriter, tunnel *Tunnel, resp *protocol.Message) {
	body, err := protocol.DecodeBody(resp.Body)
	if err != nil {
		slog.Warn("undecodable response body", "slug", tunnel.Slug(), "err", err)
		http.Error(w, _body_unreachable, http.StatusBadGateway)
		return
	}

	contentType := ""
	for k, v := range resp.Headers {
		if strings.EqualFold(k, "content-type") {
			contentType = v
			break
		}
	}

	rewritten := false
	if len(body) > 0 {
		body, rewritten = rewrite.Rewrite(contentType, body, rewrite.Prefix(tunnel.Slug()))
	}

	out := w.Header()
	for k, v := range resp.Headers {
		if _hop_by_hop[strings.ToLower(k)] {
			continue
		}
		if rewritten && strings.EqualFold(k, "content-length") {
			continue
		}
		out.Set(k, v)
	}
	if rewritten {
		out.Set("Content-Length", strconv.Itoa(len(body)))
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusBadGateway
	}
	w.WriteHeader(status)
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			slog.Debug("writing visitor response failed", "slug", tunnel.Slug(), "err", err)
		}
	}
}
