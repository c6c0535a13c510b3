package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/devtunnel/internal/protocol"
)

// HandshakeError is a terminal rejection from the relay (capacity,
// malformed parameters, slug exhaustion). reconnecting will not help.
type HandshakeError struct {
	Message string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("relay rejected handshake: %s", e.Message)
}

// _control_conn is one established control channel.
type _control_conn struct {
	codec     *protocol.Codec
	done      chan struct{}
	closeOnce sync.Once
}

// _dial_control opens the control channel and completes the handshake,
// returning the connection and the relay's connected frame.
func _dial_control(ctx context.Context, cfg *Config, dialer *ProxyDialer, tunnelID string) (*_control_conn, *protocol.Message, error) {
	u, err := url.Parse(cfg.Relay.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing relay url: %w", err)
	}
	q := u.Query()
	q.Set("tunnelId", tunnelID)
	q.Set("port", strconv.Itoa(cfg.Local.Port))
	if cfg.Tunnel.Subdomain != "" {
		q.Set("subdomain", cfg.Tunnel.Subdomain)
	}
	u.RawQuery = q.Encode()

	wsDialer := websocket.Dialer{}
	if dialer != nil {
		wsDialer.NetDialContext = dialer.DialContext
	}

	slog.Info("connecting to relay", "url", cfg.Relay.URL)
	conn, _, err := wsDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dialling relay: %w", err)
	}
	codec := protocol.NewCodec(conn)

	first, err := codec.ReadMessage()
	if err != nil {
		codec.Close()
		return nil, nil, fmt.Errorf("reading handshake reply: %w", err)
	}
	switch first.Type {
	case protocol.TypeConnected:
	case protocol.TypeError:
		codec.Close()
		return nil, nil, &HandshakeError{Message: first.ErrorMessage}
	default:
		codec.Close()
		return nil, nil, fmt.Errorf("unexpected handshake frame type %q", first.Type)
	}

	return &_control_conn{
		codec: codec,
		done:  make(chan struct{}),
	}, first, nil
}

// close shuts the channel down once.
func (c *_control_conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.codec.Close()
	})
}

// pump processes frames until the channel closes. each request frame is
// forwarded to the local process on its own goroutine; the codec
// serialises the response writes.
func (c *_control_conn) pump(forwarder *LocalForwarder, emit func(Event)) error {
	defer c.close()
	for {
		msg, err := c.codec.ReadMessage()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedFrame) {
				slog.Warn("skipping malformed frame", "err", err)
				continue
			}
			select {
			case <-c.done:
				return nil
			default:
				return fmt.Errorf("reading frame: %w", err)
			}
		}

		switch msg.Type {
		case protocol.TypePing:
			if err := c.codec.WriteMessage(protocol.NewPong()); err != nil {
				return fmt.Errorf("sending pong: %w", err)
			}
		case protocol.TypeRequest:
			emit(Event{Kind: EventRequest, RequestID: msg.RequestID, Method: msg.Method, Path: msg.Path})
			go c._handle_request(forwarder, msg)
		case protocol.TypeError:
			return fmt.Errorf("relay error: %s", msg.ErrorMessage)
		default:
			slog.Warn("unexpected frame type from relay", "type", msg.Type)
		}
	}
}

// _handle_request forwards one frame locally and sends the response back.
func (c *_control_conn) _handle_request(forwarder *LocalForwarder, msg *protocol.Message) {
	resp := forwarder.Forward(msg)
	if err := c.codec.WriteMessage(resp); err != nil {
		slog.Warn("sending response frame failed", "request_id", msg.RequestID, "err", err)
	}
}
