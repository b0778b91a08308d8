// Package testhelpers spins up a complete hub over real sockets for the
// integration suite: a Badger store in a temp directory, a static group
// directory, and the HTTP server with its WebSocket endpoint.
package testhelpers

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/studysprint/hub/internal/auth"
	"github.com/studysprint/hub/internal/directory"
	"github.com/studysprint/hub/internal/hub"
	"github.com/studysprint/hub/internal/server"
	"github.com/studysprint/hub/internal/store"
)

const (
	// Secret signs the session tokens the suite issues for itself.
	Secret = "integration-test-secret"
	// Origin is the single origin the test server allows.
	Origin = "http://localhost:3000"
)

// Harness is one running hub instance backed by throwaway storage.
type Harness struct {
	Server  *server.Server
	Gateway *hub.Gateway
	HTTP    *httptest.Server
	Store   *store.BadgerStore
}

// NewHarness starts a hub whose group directory is given by members
// (group id to member user ids). Options mutate the sanitized config, e.g.
// to shrink timeouts. Everything is torn down via t.Cleanup.
func NewHarness(t *testing.T, members map[string][]string, opts ...func(*server.Config)) *Harness {
	t.Helper()

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewBadgerStore(db, log)

	cfg := server.Config{
		AllowedOrigins: Origin,
		JWTSecret:      Secret,
		HistoryLimit:   50,
	}
	cfg.Sanitize()
	for _, opt := range opts {
		opt(&cfg)
	}

	gateway := hub.NewGateway(
		auth.NewJWTVerifier(Secret),
		directory.NewStatic(members),
		st,
		cfg.HistoryLimit,
		log,
	)
	srv := server.New(cfg, gateway, log)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &Harness{Server: srv, Gateway: gateway, HTTP: ts, Store: st}
}

// Token issues a session token for the user, valid for one hour.
func Token(t *testing.T, userID, displayName string) string {
	t.Helper()
	token, err := auth.IssueToken(Secret, userID, displayName, time.Hour)
	require.NoError(t, err)
	return token
}

// WSURL builds the WebSocket URL for a group, with an optional token.
func (h *Harness) WSURL(groupID, token string) string {
	url := "ws" + strings.TrimPrefix(h.HTTP.URL, "http") + "/ws/" + groupID
	if token != "" {
		url += "?token=" + token
	}
	return url
}

// Dial opens a WebSocket to the group as the given user and fails the test
// if the handshake is rejected. The handshake completes before the server
// goroutine attaches the connection to its room, so Dial also waits for the
// attach; frames sent right after Dial returns will reach the new member.
func (h *Harness) Dial(t *testing.T, groupID, userID, displayName string) *websocket.Conn {
	t.Helper()
	before := h.Gateway.Rooms().MemberCount(groupID)
	conn, err := h.dial(h.WSURL(groupID, Token(t, userID, displayName)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	Eventually(t, func() bool {
		return h.Gateway.Rooms().MemberCount(groupID) > before
	}, "connection was never attached to its room")
	return conn
}

// DialRaw opens a WebSocket with an arbitrary token and returns the
// handshake error, if any, for tests probing rejection paths.
func (h *Harness) DialRaw(groupID, token string) (*websocket.Conn, error) {
	return h.dial(h.WSURL(groupID, token))
}

// DialFromOrigin is DialRaw with a caller-chosen Origin header.
func (h *Harness) DialFromOrigin(groupID, token, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", origin)
	conn, resp, err := dialer.Dial(h.WSURL(groupID, token), headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (h *Harness) dial(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", Origin)
	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// Send writes one frame as JSON.
func Send(t *testing.T, conn *websocket.Conn, f hub.Frame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(f))
}

// Recv reads the next frame, failing the test after the deadline.
func Recv(t *testing.T, conn *websocket.Conn) hub.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f hub.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// RecvKind reads frames until one of the wanted kind arrives, skipping
// anything else already queued on the socket.
func RecvKind(t *testing.T, conn *websocket.Conn, kind string) hub.Frame {
	t.Helper()
	for i := 0; i < 32; i++ {
		f := Recv(t, conn)
		if f.Kind == kind {
			return f
		}
	}
	t.Fatalf("no %q frame received", kind)
	return hub.Frame{}
}

// ExpectClose reads until the peer closes the connection and asserts the
// close code.
func ExpectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr, "expected close frame, got %v", err)
			require.Equal(t, code, closeErr.Code)
			return
		}
	}
}

// CloseNormally sends a close frame and shuts the connection down.
func CloseNormally(conn *websocket.Conn) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		return err
	}
	return conn.Close()
}

// WaitCallState blocks until the group's call room reaches the given state.
// Frames on different sockets are processed with no mutual ordering, so
// call scenarios must wait on room state between sends.
func (h *Harness) WaitCallState(t *testing.T, groupID string, state hub.CallState) {
	t.Helper()
	Eventually(t, func() bool {
		return h.Gateway.Rooms().CallState(groupID) == state
	}, "call room never reached state "+state.String())
}

// GroupOf builds a directory map with a single group.
func GroupOf(groupID string, userIDs ...string) map[string][]string {
	return map[string][]string{groupID: userIDs}
}

// Eventually polls cond until it holds or the timeout elapses.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond, msg)
}
