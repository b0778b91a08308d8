package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/studysprint/hub/internal/hub"
)

// Server exposes the hub over HTTP. It owns the upgrader, the origin policy,
// and the set of live clients for graceful shutdown.
type Server struct {
	cfg      Config
	gateway  *hub.Gateway
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.Mutex
	clients map[*hub.Client]struct{}
	wg      sync.WaitGroup
}

func New(cfg Config, gateway *hub.Gateway, log *slog.Logger) *Server {
	policy := NewOriginPolicy(cfg.Origins(), log)
	return &Server{
		cfg:     cfg,
		gateway: gateway,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.Check,
		},
		log:     log,
		clients: make(map[*hub.Client]struct{}),
	}
}

// WebSocketHandler upgrades GET /ws/{groupID} and hands the connection to
// the gateway. Authentication failures close the fresh socket with the auth
// close code so clients know a reconnect with the same token is pointless.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	groupID := mux.Vars(r)["groupID"]
	token := r.URL.Query().Get("token")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := hub.NewClient(conn, s.gateway, s.connConfig(), s.log)
	handle, err := s.gateway.HandleConnect(r.Context(), token, groupID, client)
	if err != nil {
		s.rejectConnect(conn, err)
		return
	}
	client.Bind(handle)

	s.track(client)
	defer s.untrack(client)
	client.Run()
}

// rejectConnect reports the connect failure on the fresh socket and closes
// it with the matching close code.
func (s *Server) rejectConnect(conn *websocket.Conn, err error) {
	s.log.Info("connection rejected", "err", err)
	code := websocket.ClosePolicyViolation
	if errors.Is(err, hub.ErrAuth) {
		code = hub.CloseAuthFailure
	}
	deadline := time.Now().Add(s.cfg.WriteWait)
	msg := websocket.FormatCloseMessage(code, errKindOf(err))
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
}

// errKindOf keeps close reasons short and free of collaborator error text.
func errKindOf(err error) string {
	switch {
	case errors.Is(err, hub.ErrAuth):
		return "auth failed"
	case errors.Is(err, hub.ErrDuplicateConnection):
		return "duplicate connection"
	case errors.Is(err, hub.ErrGroupAccess):
		return "group access denied"
	default:
		return "connect failed"
	}
}

// HealthHandler reports liveness for load balancers.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "studysprint hub is running! active groups: %d, connections: %d",
		s.gateway.Rooms().ActiveGroups(), s.gateway.Registry().Len())
}

func (s *Server) connConfig() hub.ConnConfig {
	return hub.ConnConfig{
		PongWait:       s.cfg.PongWait,
		PingInterval:   s.cfg.PingInterval(),
		WriteWait:      s.cfg.WriteWait,
		MaxMessageSize: s.cfg.MaxMessageSize,
		SendQueueSize:  s.cfg.SendQueueSize,
		RateBurst:      s.cfg.RateBurst,
		RateInterval:   s.cfg.RateInterval,
	}
}

func (s *Server) track(c *hub.Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.wg.Add(1)
}

func (s *Server) untrack(c *hub.Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	s.wg.Done()
}

// DrainClients asks every live connection to close normally and waits for
// their pumps to finish or for the timeout.
func (s *Server) DrainClients(timeout time.Duration) error {
	s.mu.Lock()
	for c := range s.clients {
		c.Kick(hub.CloseNormal, "server shutting down")
	}
	count := len(s.clients)
	s.mu.Unlock()
	s.log.Info("draining client connections", "count", count)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		s.log.Warn("client drain timeout reached")
		return context.DeadlineExceeded
	}
}
