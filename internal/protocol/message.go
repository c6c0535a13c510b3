package protocol

import (
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// message types for the tunnel wire protocol. every frame is one json
// object tagged by the "type" field.
const (
	TypeConnected = "connected"
	TypeError     = "error"
	TypePing      = "ping"
	TypePong      = "pong"
	TypeRequest   = "request"
	TypeResponse  = "response"
)

// Message is the union of all frame kinds. fields not belonging to the
// tagged kind are left empty and omitted on the wire.
type Message struct {
	Type string `json:"type"`

	// connected
	TunnelID  string `json:"tunnelId,omitempty"`
	Subdomain string `json:"subdomain,omitempty"`
	PublicURL string `json:"publicUrl,omitempty"`

	// error
	ErrorMessage string `json:"message,omitempty"`

	// request / response
	RequestID  string            `json:"requestId,omitempty"`
	Method     string            `json:"method,omitempty"`
	Path       string            `json:"path,omitempty"`
	StatusCode int               `json:"statusCode,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`

	// base64-encoded payload; empty string means empty body.
	Body string `json:"body,omitempty"`
}

// NewRequestID returns a fresh correlation id, unique within a tunnel.
func NewRequestID() string {
	return uuid.NewString()
}

// NewTunnelID returns a generated tunnel identifier.
func NewTunnelID() string {
	return uuid.NewString()
}

// NewConnected builds the handshake acknowledgement frame.
func NewConnected(tunnelID, subdomain, publicURL string) *Message {
	return &Message{
		Type:      TypeConnected,
		TunnelID:  tunnelID,
		Subdomain: subdomain,
		PublicURL: publicURL,
	}
}

// NewError builds a terminal error frame.
func NewError(message string) *Message {
	return &Message{Type: TypeError, ErrorMessage: message}
}

// NewPing builds a liveness probe frame.
func NewPing() *Message {
	return &Message{Type: TypePing}
}

// NewPong builds a keepalive reply frame.
func NewPong() *Message {
	return &Message{Type: TypePong}
}

// NewRequest builds a visitor request frame with the body base64-encoded.
func NewRequest(requestID, method, path string, headers map[string]string, body []byte) *Message {
	return &Message{
		Type:      TypeRequest,
		RequestID: requestID,
		Method:    method,
		Path:      path,
		Headers:   headers,
		Body:      EncodeBody(body),
	}
}

// NewResponse builds a response frame matching a prior request.
func NewResponse(requestID string, statusCode int, headers map[string]string, body []byte) *Message {
	return &Message{
		Type:       TypeResponse,
		RequestID:  requestID,
		StatusCode: statusCode,
		Headers:    headers,
		Body:       EncodeBody(body),
	}
}

// EncodeBody base64-encodes a body for transport inside a text frame.
func EncodeBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(body)
}

// DecodeBody reverses EncodeBody. an empty string decodes to nil.
func DecodeBody(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	body, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding body: %w", err)
	}
	return body, nil
}
