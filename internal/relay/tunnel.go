package relay

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devtunnel/internal/protocol"
)

// dispatch outcomes surfaced to the visitor-facing handler.
var (
	// ErrRequestTimeout fires when the client never answered in time.
	ErrRequestTimeout = errors.New("request timeout")
	// ErrTunnelClosed fires when the control channel went away while the
	// request was pending.
	ErrTunnelClosed = errors.New("tunnel disconnected")
	// ErrSendFailed fires when the request frame could not be written.
	ErrSendFailed = errors.New("control channel write failed")
)

// Tunnel is the relay-side state for one control channel: the exclusive
// codec, the pending-request map, and the keepalive loop.
type Tunnel struct {
	id        string
	slug      string
	localPort int

	codec       *protocol.Codec
	connectedAt time.Time
	keepalive   time.Duration

	requestCount atomic.Uint64

	pendingMu sync.Mutex
	pending   map[string]*_pending_request
	closed    bool

	done      chan struct{}
	closeOnce sync.Once
}

// _pending_request is the relay-side record for one in-flight visitor
// request. the sink is single-use: exactly one of response, deadline or
// teardown resolves it.
type _pending_request struct {
	sink    chan _dispatch_result
	timer   *time.Timer
	started time.Time
}

type _dispatch_result struct {
	msg *protocol.Message
	err error
}

// NewTunnel wraps an accepted control channel. the read and keepalive
// loops start with Start, after the handshake frame has been sent.
func NewTunnel(id string, localPort int, codec *protocol.Codec, keepalive time.Duration) *Tunnel {
	return &Tunnel{
		id:          id,
		localPort:   localPort,
		codec:       codec,
		connectedAt: time.Now(),
		keepalive:   keepalive,
		pending:     make(map[string]*_pending_request),
		done:        make(chan struct{}),
	}
}

// Start launches the read and keepalive loops. called once, after the
// connected frame is on the wire.
func (t *Tunnel) Start() {
	go t._read_loop()
	go t._keepalive_loop()
}

// Dispatch sends a request frame and blocks until the matching response
// arrives, the deadline fires, or the tunnel tears down.
func (t *Tunnel) Dispatch(msg *protocol.Message, timeout time.Duration) (*protocol.Message, error) {
	p := &_pending_request{
		sink:    make(chan _dispatch_result, 1),
		started: time.Now(),
	}

	t.pendingMu.Lock()
	if t.closed {
		t.pendingMu.Unlock()
		return nil, ErrTunnelClosed
	}
	// the timer callback takes pendingMu, so it cannot observe the record
	// before both timer and map entry exist
	p.timer = time.AfterFunc(timeout, func() {
		t._resolve(msg.RequestID, nil, ErrRequestTimeout)
	})
	t.pending[msg.RequestID] = p
	t.pendingMu.Unlock()

	if err := t.codec.WriteMessage(msg); err != nil {
		t._resolve(msg.RequestID, nil, ErrSendFailed)
		res := <-p.sink
		return nil, res.err
	}
	t.requestCount.Add(1)

	res := <-p.sink
	return res.msg, res.err
}

// Close tears the tunnel down: the channel is closed, every pending
// record fails, and the done channel unblocks the registry watcher.
func (t *Tunnel) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.codec.Close()

		t.pendingMu.Lock()
		t.closed = true
		orphans := t.pending
		t.pending = make(map[string]*_pending_request)
		t.pendingMu.Unlock()

		for _, p := range orphans {
			p.timer.Stop()
			p.sink <- _dispatch_result{err: ErrTunnelClosed}
		}
		slog.Info("tunnel closed", "id", t.id, "slug", t.slug)
	})
}

// CloseGraceful sends a normal closure frame first, used on shutdown.
func (t *Tunnel) CloseGraceful(reason string) {
	t.codec.CloseNormal(reason)
	t.Close()
}

// Done returns a channel closed when the tunnel shuts down.
func (t *Tunnel) Done() <-chan struct{} {
	return t.done
}

// Alive reports whether the control channel is still writable.
func (t *Tunnel) Alive() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// ID returns the tunnel identifier assigned at handshake.
func (t *Tunnel) ID() string { return t.id }

// Slug returns the slug installed by the registry.
func (t *Tunnel) Slug() string { return t.slug }

// LocalPort returns the port the client forwards to (informational).
func (t *Tunnel) LocalPort() int { return t.localPort }

// ConnectedAt returns the handshake timestamp.
func (t *Tunnel) ConnectedAt() time.Time { return t.connectedAt }

// RequestCount returns the number of visitor requests accepted.
func (t *Tunnel) RequestCount() uint64 { return t.requestCount.Load() }

// PendingCount returns the number of unresolved requests.
func (t *Tunnel) PendingCount() int {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	return len(t.pending)
}

// _resolve completes a pending record exactly once. unknown ids are
// dropped silently (the request may have timed out already).
func (t *Tunnel) _resolve(requestID string, msg *protocol.Message, err error) {
	t.pendingMu.Lock()
	p, ok := t.pending[requestID]
	if ok {
		delete(t.pending, requestID)
	}
	t.pendingMu.Unlock()
	if !ok {
		return
	}
	p.timer.Stop()
	p.sink <- _dispatch_result{msg: msg, err: err}
}

// _read_loop pumps frames off the control channel until it closes.
// malformed frames are skipped; only transport errors terminate.
func (t *Tunnel) _read_loop() {
	defer t.Close()
	for {
		msg, err := t.codec.ReadMessage()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedFrame) {
				slog.Warn("skipping malformed frame", "id", t.id, "err", err)
				continue
			}
			select {
			case <-t.done:
			default:
				slog.Info("control channel read ended", "id", t.id, "err", err)
			}
			return
		}

		switch msg.Type {
		case protocol.TypeResponse:
			t._resolve(msg.RequestID, msg, nil)
		case protocol.TypePong:
			// keepalive reply, nothing to do
		default:
			slog.Warn("unexpected frame type from client", "id", t.id, "type", msg.Type)
		}
	}
}

// _keepalive_loop sends periodic pings to keep the channel alive.
func (t *Tunnel) _keepalive_loop() {
	ticker := time.NewTicker(t.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.codec.WriteMessage(protocol.NewPing()); err != nil {
				slog.Warn("keepalive ping failed", "id", t.id, "err", err)
				t.Close()
				return
			}
		case <-t.done:
			return
		}
	}
}
