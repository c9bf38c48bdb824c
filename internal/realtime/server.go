package realtime

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gwi.com/recall-chat/internal/auth"
	"gwi.com/recall-chat/internal/core"
	"gwi.com/recall-chat/internal/logger"
	"gwi.com/recall-chat/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 16

	defaultTurnTimeout = 60 * time.Second
)

type TurnSubmitter interface {
	SubmitTurn(ctx context.Context, userID string, chatID string, text string) (*core.TurnResult, error)
}

type Authenticator interface {
	ResolveToken(ctx context.Context, token string) (*store.User, error)
}

type Options struct {
	// AllowedOrigins lists browser origins allowed to connect. "*" allows any origin.
	// Requests without an Origin header (non-browser clients) are always allowed.
	AllowedOrigins []string
	TurnTimeout    time.Duration
}

// Server upgrades authenticated requests to websocket sessions.
type Server struct {
	log         *logger.Logger
	auth        Authenticator
	turns       TurnSubmitter
	upgrader    websocket.Upgrader
	turnTimeout time.Duration

	// inflight tracks turn goroutines so shutdown can wait for them.
	inflight sync.WaitGroup
}

func NewServer(log *logger.Logger, authenticator Authenticator, turns TurnSubmitter, opts Options) *Server {
	s := &Server{
		log:         log.With("service", "realtime"),
		auth:        authenticator,
		turns:       turns,
		turnTimeout: opts.TurnTimeout,
	}
	if s.turnTimeout <= 0 {
		s.turnTimeout = defaultTurnTimeout
	}
	allowed := make(map[string]bool, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		allowed[strings.TrimRight(strings.ToLower(o), "/")] = true
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(allowed, r)
		},
	}
	return s
}

func originAllowed(allowed map[string]bool, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || allowed["*"] {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if allowed[strings.ToLower(u.Scheme+"://"+u.Host)] {
		return true
	}
	// Same-origin requests are always fine.
	return strings.EqualFold(u.Host, r.Host)
}

// ServeHTTP authenticates before upgrading, so an unauthenticated client never gets
// a session and never reaches the orchestrator.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.ResolveToken(r.Context(), auth.TokenFromRequest(r))
	if err != nil || user == nil {
		s.log.Debug("Rejected websocket connection", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.log.Warn("Websocket upgrade failed", "user_id", user.ID, "error", err)
		return
	}

	sess := newSession(s, conn, user.ID)
	sess.log.Info("Websocket connected", "remote_addr", r.RemoteAddr)
	sess.run()
}

// Wait blocks until every in-flight turn has finished or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
