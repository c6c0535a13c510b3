package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/devtunnel/internal/protocol"
)

// State is the controller's position in its connection lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Controller owns one control channel to the relay and drives the
// reconnect state machine. lifecycle is surfaced to the embedding UI as
// tagged events on a single channel.
type Controller struct {
	cfg       *Config
	dialer    *ProxyDialer
	forwarder *LocalForwarder
	tunnelID  string

	events chan Event

	mu    sync.Mutex
	state State
}

// New creates a controller from the given configuration. the tunnel id is
// generated once and reused for every reconnect in this process.
func New(cfg *Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var dialer *ProxyDialer
	if cfg.Proxy.URL != "" {
		var err error
		dialer, err = NewProxyDialer(cfg.Proxy.URL, cfg.Proxy.DialTimeout)
		if err != nil {
			return nil, err
		}
	}

	tunnelID := cfg.Tunnel.ID
	if tunnelID == "" {
		tunnelID = protocol.NewTunnelID()
	}

	return &Controller{
		cfg:       cfg,
		dialer:    dialer,
		forwarder: NewLocalForwarder(cfg.Local.Port, cfg.Tunnel.RequestTimeout),
		tunnelID:  tunnelID,
		events:    make(chan Event, 64),
		state:     StateIdle,
	}, nil
}

// Events returns the lifecycle event channel. slow consumers lose events
// rather than stalling the tunnel.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TunnelID returns the stable tunnel identifier.
func (c *Controller) TunnelID() string {
	return c.tunnelID
}

// Run connects and keeps the tunnel alive until the context is cancelled,
// the relay rejects the handshake, or the reconnect budget is spent.
func (c *Controller) Run(ctx context.Context) error {
	defer c._set_state(StateClosed)

	b := &backoff.Backoff{
		Min:    c.cfg.Tunnel.ReconnectDelay,
		Max:    c.cfg.Tunnel.MaxReconnectDelay,
		Factor: 2,
	}

	for {
		c._set_state(StateConnecting)
		err := c._run_session(ctx, b)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var hs *HandshakeError
		if errors.As(err, &hs) {
			c._emit(Event{Kind: EventError, Err: err})
			return err
		}

		c._emit(Event{Kind: EventDisconnected})

		attempt := int(b.Attempt()) + 1
		if attempt > c.cfg.Tunnel.MaxReconnectAttempts {
			err = fmt.Errorf("giving up after %d reconnect attempts: %w",
				c.cfg.Tunnel.MaxReconnectAttempts, err)
			c._emit(Event{Kind: EventError, Err: err})
			return err
		}

		delay := b.Duration()
		c._set_state(StateReconnecting)
		c._emit(Event{Kind: EventReconnecting, Attempt: attempt, Delay: delay})
		slog.Warn("tunnel disconnected, reconnecting", "attempt", attempt, "delay", delay, "err", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// _run_session dials, handshakes and pumps one control channel until it
// ends.
func (c *Controller) _run_session(ctx context.Context, b *backoff.Backoff) error {
	conn, connected, err := _dial_control(ctx, c.cfg, c.dialer, c.tunnelID)
	if err != nil {
		return err
	}
	defer conn.close()

	b.Reset()
	c._set_state(StateOpen)
	c._emit(Event{
		Kind:      EventConnected,
		TunnelID:  connected.TunnelID,
		Subdomain: connected.Subdomain,
		PublicURL: connected.PublicURL,
	})
	slog.Info("tunnel established", "subdomain", connected.Subdomain, "url", connected.PublicURL)

	pumpErr := make(chan error, 1)
	go func() {
		pumpErr <- conn.pump(c.forwarder, c._emit)
	}()

	select {
	case err := <-pumpErr:
		return err
	case <-ctx.Done():
		conn.close()
		return ctx.Err()
	}
}

// _emit delivers an event without ever blocking the tunnel.
func (c *Controller) _emit(e Event) {
	select {
	case c.events <- e:
	default:
	}
}

func (c *Controller) _set_state(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
