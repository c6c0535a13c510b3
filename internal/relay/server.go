package relay

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devtunnel/internal/protocol"
)

// how long shutdown waits for in-flight work before the hard exit.
const _shutdown_grace = 5 * time.Second

// ErrForcedShutdown is returned when the grace timer expired; the process
// should exit non-zero.
var ErrForcedShutdown = errors.New("forced shutdown after grace period")

// Server is the relay front end: one public http listener dispatching
// visitor traffic, plus the websocket upgrade endpoint for control
// channels.
type Server struct {
	cfg       *Config
	registry  *Registry
	handler   *Handler
	upgrader  websocket.Upgrader
	startedAt time.Time
}

// NewServer creates a configured relay server. zero-valued timing knobs
// fall back to the standard defaults.
func NewServer(cfg *Config) *Server {
	if cfg.KeepalivePeriod <= 0 {
		cfg.KeepalivePeriod = 30 * time.Second
	}
	if cfg.RequestTimeoutMS <= 0 {
		cfg.RequestTimeoutMS = 30000
	}
	registry := NewRegistry(cfg.MaxTunnels)
	return &Server{
		cfg:      cfg,
		registry: registry,
		handler:  NewHandler(cfg, registry),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startedAt: time.Now(),
	}
}

// Registry exposes the tunnel table, mainly for tests.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Run starts the listeners and blocks until the context is cancelled or a
// listener fails. on cancellation all tunnels are closed and the server
// drains within the grace period.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s._handle_health)
	mux.HandleFunc("/stats", s._handle_stats)
	mux.HandleFunc("/tunnel", s._handle_tunnel)
	mux.Handle("/", s.handler)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: mux,
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("relay listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var httpsSrv *http.Server
	if s.cfg.UseHTTPS {
		if _, err := tls.LoadX509KeyPair(s.cfg.SSLCert, s.cfg.SSLKey); err != nil {
			slog.Error("tls startup failed, continuing on plain http", "err", err)
		} else {
			httpsSrv = &http.Server{
				Addr:    fmt.Sprintf(":%d", s.cfg.HTTPSPort),
				Handler: mux,
			}
			go func() {
				slog.Info("relay listening", "addr", httpsSrv.Addr, "tls", true)
				if err := httpsSrv.ListenAndServeTLS(s.cfg.SSLCert, s.cfg.SSLKey); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()
		}
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down", "active_tunnels", s.registry.Len())
	s.registry.CloseAll("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), _shutdown_grace)
	defer cancel()
	var shutdownErr error
	if httpsSrv != nil {
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = err
		}
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		shutdownErr = err
	}
	if shutdownErr != nil {
		return fmt.Errorf("%w: %v", ErrForcedShutdown, shutdownErr)
	}
	return nil
}

// _handle_tunnel accepts a control-channel upgrade and performs the
// handshake: validate parameters, allocate a slug, install the tunnel,
// send connected, start the pumps.
func (s *Server) _handle_tunnel(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	codec := protocol.NewCodec(conn)

	q := r.URL.Query()
	port, err := strconv.Atoi(q.Get("port"))
	if err != nil || port < 1 || port > 65535 {
		slog.Warn("malformed handshake", "port", q.Get("port"), "remote", r.RemoteAddr)
		codec.WriteMessage(protocol.NewError("invalid port parameter"))
		codec.Close()
		return
	}

	tunnelID := q.Get("tunnelId")
	if tunnelID == "" {
		tunnelID = protocol.NewTunnelID()
	}

	tunnel := NewTunnel(tunnelID, port, codec, s.cfg.KeepalivePeriod)
	slug, err := s.registry.Register(tunnel, q.Get("subdomain"))
	if err != nil {
		slog.Warn("handshake rejected", "id", tunnelID, "err", err, "remote", r.RemoteAddr)
		codec.WriteMessage(protocol.NewError(err.Error()))
		codec.Close()
		return
	}

	publicURL := BaseURL(s.cfg, r) + "/t/" + slug
	if err := codec.WriteMessage(protocol.NewConnected(tunnelID, slug, publicURL)); err != nil {
		slog.Warn("sending connected frame failed", "id", tunnelID, "err", err)
		tunnel.Close()
		return
	}

	slog.Info("tunnel connected", "id", tunnelID, "slug", slug, "url", publicURL, "remote", r.RemoteAddr)
	tunnel.Start()
}

// _handle_health reports liveness.
func (s *Server) _handle_health(w http.ResponseWriter, r *http.Request) {
	_write_json(w, map[string]any{
		"status":  "ok",
		"tunnels": s.registry.Len(),
		"uptime":  int64(time.Since(s.startedAt).Seconds()),
	})
}

// _handle_stats reports counters.
func (s *Server) _handle_stats(w http.ResponseWriter, r *http.Request) {
	_write_json(w, map[string]any{
		"activeTunnels": s.registry.Len(),
		"maxTunnels":    s.registry.MaxTunnels(),
		"uptime":        int64(time.Since(s.startedAt).Seconds()),
	})
}

func _write_json(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writing json response", "err", err)
	}
}
