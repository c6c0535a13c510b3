package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrMalformedFrame marks frames that decoded badly but did not break the
// transport. callers should log and keep reading.
var ErrMalformedFrame = errors.New("malformed frame")

// Codec reads and writes protocol messages over a websocket connection.
// writes are serialised so concurrent frame sends never interleave.
type Codec struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewCodec wraps a websocket connection with message encoding/decoding.
func NewCodec(conn *websocket.Conn) *Codec {
	return &Codec{conn: conn}
}

// WriteMessage serialises and sends a message as a single text frame.
func (c *Codec) WriteMessage(m *Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshalling message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadMessage reads and deserialises the next message. a decode failure on
// an otherwise healthy connection returns ErrMalformedFrame; transport
// errors are returned as-is.
func (c *Codec) ReadMessage() (*Message, error) {
	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading websocket message: %w", err)
	}
	if msgType != websocket.TextMessage {
		return nil, fmt.Errorf("%w: unexpected websocket message type %d", ErrMalformedFrame, msgType)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("%w: missing type tag", ErrMalformedFrame)
	}
	return &m, nil
}

// Close closes the underlying websocket connection.
func (c *Codec) Close() error {
	return c.conn.Close()
}

// CloseNormal sends a normal closure frame before closing, used for
// graceful shutdown.
func (c *Codec) CloseNormal(reason string) error {
	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	c.writeMu.Unlock()
	return c.conn.Close()
}
