package server

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// Routes builds the HTTP router: the WebSocket endpoint, scoped by group id,
// and a health check. CORS headers cover the health endpoint for dashboards;
// the WebSocket endpoint enforces its own origin policy at upgrade time.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws/{groupID}", s.WebSocketHandler).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.HealthHandler).Methods(http.MethodGet)

	return handlers.CORS(
		handlers.AllowedOrigins(s.cfg.Origins()),
		handlers.AllowedMethods([]string{http.MethodGet}),
	)(r)
}
