package client

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/devtunnel/internal/protocol"
)

// request headers never forwarded to the local process.
var _dropped_request_headers = map[string]bool{
	"host":              true,
	"connection":        true,
	"keep-alive":        true,
	"transfer-encoding": true,
}

// response headers never sent back over the tunnel.
var _dropped_response_headers = map[string]bool{
	"transfer-encoding": true,
	"connection":        true,
}

// LocalForwarder turns request frames into http exchanges against the
// local port and builds the matching response frames.
type LocalForwarder struct {
	baseURL string
	port    int
	client  *http.Client
}

// NewLocalForwarder creates a forwarder targeting localhost on the given
// port with a per-request timeout.
func NewLocalForwarder(port int, timeout time.Duration) *LocalForwarder {
	return &LocalForwarder{
		baseURL: fmt.Sprintf("http://localhost:%d", port),
		port:    port,
		client:  &http.Client{Timeout: timeout},
	}
}

// Forward executes one request frame against the local process. it always
// returns a response frame; local failures become a synthesised 502.
func (f *LocalForwarder) Forward(msg *protocol.Message) *protocol.Message {
	body, err := protocol.DecodeBody(msg.Body)
	if err != nil {
		slog.Warn("undecodable request body", "request_id", msg.RequestID, "err", err)
		return f._unreachable_response(msg.RequestID)
	}

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(msg.Method, f.baseURL+msg.Path, bodyReader)
	if err != nil {
		slog.Warn("building local request failed", "request_id", msg.RequestID, "err", err)
		return f._unreachable_response(msg.RequestID)
	}
	for k, v := range msg.Headers {
		if _dropped_request_headers[strings.ToLower(k)] {
			continue
		}
		req.Header.Set(k, v)
	}

	slog.Debug("forwarding to local server", "method", msg.Method, "path", msg.Path, "port", f.port)
	resp, err := f.client.Do(req)
	if err != nil {
		slog.Warn("local server request failed", "request_id", msg.RequestID, "err", err)
		return f._unreachable_response(msg.RequestID)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Warn("reading local response failed", "request_id", msg.RequestID, "err", err)
		return f._unreachable_response(msg.RequestID)
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if _dropped_response_headers[strings.ToLower(k)] {
			continue
		}
		headers[k] = strings.Join(v, ", ")
	}

	return protocol.NewResponse(msg.RequestID, resp.StatusCode, headers, respBody)
}

// _unreachable_response synthesises the 502 the visitor sees when the
// local process cannot be reached.
func (f *LocalForwarder) _unreachable_response(requestID string) *protocol.Message {
	body := fmt.Sprintf("Could not reach the local server on port %d. Is it running?", f.port)
	return protocol.NewResponse(requestID, http.StatusBadGateway,
		map[string]string{"Content-Type": "text/plain; charset=utf-8"}, []byte(body))
}
