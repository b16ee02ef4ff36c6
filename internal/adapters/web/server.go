// Package web serves the browser channel over WebSocket.
//
// Wire protocol, JSON per frame. Client to server:
//
//	{"type": "message", "text": "..."}
//	{"type": "confirm", "id": "...", "value": true}
//
// Server to client:
//
//	{"type": "reply", "text": "..."}
//	{"type": "confirm_request", "id": "...", "prompt": "..."}
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/internal/router"
	"github.com/chainclaw/chainclaw/pkg/logger"
)

// confirmationTTL is how long a confirm_request stays answerable.
const confirmationTTL = 2 * time.Minute

const writeTimeout = 10 * time.Second

// Frame is one protocol message in either direction.
type Frame struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	ID     string `json:"id,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	Value  bool   `json:"value,omitempty"`
}

// Server terminates WebSocket sessions and feeds the router.
type Server struct {
	router     *router.Router
	upgrader   websocket.Upgrader
	confirmTTL time.Duration
	log        *zap.Logger

	httpServer *http.Server

	mu       sync.RWMutex
	sessions map[string]*session // userID -> most recent connection
}

// NewServer creates the web channel server.
func NewServer(rt *router.Router) *Server {
	return &Server{
		router: rt,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Self-hosted, single-operator deployment.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		confirmTTL: confirmationTTL,
		log:        logger.Named("web"),
		sessions:   make(map[string]*session),
	}
}

// Send delivers a background notification to a connected user.
func (s *Server) Send(userID, text string) error {
	s.mu.RLock()
	sess, ok := s.sessions[userID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("user %s has no open session", userID)
	}
	sess.send(Frame{Type: "reply", Text: text})
	return nil
}

// Start listens on addr until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info("🌐 web channel listening", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	userID := r.URL.Query().Get("user")
	if userID == "" {
		userID = uuid.NewString()
	}
	sess := newSession(conn, "web:"+userID, s.router, s.confirmTTL, s.log)
	s.mu.Lock()
	s.sessions[sess.userID] = sess
	s.mu.Unlock()

	sess.run(r.Context())

	s.mu.Lock()
	if s.sessions[sess.userID] == sess {
		delete(s.sessions, sess.userID)
	}
	s.mu.Unlock()
}

// session is one connected browser tab.
type session struct {
	conn       *websocket.Conn
	userID     string
	router     *router.Router
	confirmTTL time.Duration
	log        *zap.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[string]chan bool
}

func newSession(conn *websocket.Conn, userID string, rt *router.Router, confirmTTL time.Duration, log *zap.Logger) *session {
	return &session{
		conn:       conn,
		userID:     userID,
		router:     rt,
		confirmTTL: confirmTTL,
		log:        log.With(zap.String("user_id", userID)),
		pending:    make(map[string]chan bool),
	}
}

func (s *session) run(ctx context.Context) {
	defer s.conn.Close()
	s.log.Info("session opened")

	for {
		var frame Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("session read failed", zap.Error(err))
			}
			s.log.Info("session closed")
			return
		}

		switch frame.Type {
		case "message":
			go s.handleMessage(ctx, frame.Text)
		case "confirm":
			s.handleConfirm(frame.ID, frame.Value)
		default:
			s.send(Frame{Type: "reply", Text: fmt.Sprintf("Unsupported frame type %q.", frame.Type)})
		}
	}
}

func (s *session) handleMessage(ctx context.Context, text string) {
	cc := &router.ChannelContext{
		UserID:    s.userID,
		ChannelID: s.userID,
		Platform:  "web",
		SendReply: func(text string) {
			s.send(Frame{Type: "reply", Text: text})
		},
		RequestConfirmation: s.requestConfirmation,
	}
	if err := s.router.Dispatch(ctx, cc, text); err != nil {
		s.log.Error("dispatch failed", zap.Error(err))
	}
}

// requestConfirmation sends a confirm_request frame and blocks for the
// answer. TTL expiry surfaces as a deadline error so callers render the
// timeout path rather than a user decline.
func (s *session) requestConfirmation(ctx context.Context, prompt string) (bool, error) {
	id := uuid.NewString()
	verdict := make(chan bool, 1)

	s.mu.Lock()
	s.pending[id] = verdict
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	s.send(Frame{Type: "confirm_request", ID: id, Prompt: prompt})

	select {
	case approved := <-verdict:
		return approved, nil
	case <-time.After(s.confirmTTL):
		s.send(Frame{Type: "reply", Text: "⌛ Confirmation timed out; nothing was executed."})
		return false, context.DeadlineExceeded
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *session) handleConfirm(id string, value bool) {
	s.mu.Lock()
	verdict, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if !ok {
		s.send(Frame{Type: "reply", Text: "That confirmation has expired."})
		return
	}
	verdict <- value
}

func (s *session) send(frame Frame) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(frame); err != nil {
		s.log.Warn("failed to write frame", zap.String("type", frame.Type), zap.Error(err))
	}
}
