package websocket

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"session-chat/auth"
	"session-chat/errors"
	"session-chat/services"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

type ServerConfig struct {
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	ReadLimit         int64
	AllowedOrigins    []string
}

// Pinger reports whether the server can take traffic.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the chat over HTTP: the websocket endpoint, the login
// and signup forms and a liveness probe.
type Server struct {
	log      *slog.Logger
	gateway  *services.SessionGateway
	auth     services.IAuthService
	health   Pinger
	cfg      ServerConfig
	upgrader websocket.Upgrader

	// live websocket sessions, waited for on shutdown
	sessions sync.WaitGroup
}

func NewServer(
	log *slog.Logger,
	gateway *services.SessionGateway,
	authService services.IAuthService,
	health Pinger,
	cfg ServerConfig,
) *Server {
	s := &Server{
		log:     log,
		gateway: gateway,
		auth:    authService,
		health:  health,
		cfg:     cfg,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", s.handleUp)
	mux.HandleFunc("GET /chat/{roomID}", s.handleChat)
	mux.HandleFunc("POST /token", s.handleToken)
	mux.HandleFunc("POST /signup", s.handleSignup)
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully and
// waits for the live sessions to end.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errChan := make(chan error, 1)
	go func() {
		s.log.Info("Chat server listening", "addr", listener.Addr().String())
		errChan <- server.Serve(listener)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	// hijacked websocket connections are not tracked by Shutdown
	err := server.Shutdown(shutdownCtx)
	s.sessions.Wait()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info("Chat server stopped")
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return lo.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) handleUp(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Ping(r.Context()); err != nil {
		s.log.Warn("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleChat upgrades and hands the connection to the gateway. The token
// comes from the query string, browsers being unable to set headers on a
// websocket handshake, or from the Authorization header.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	credential := r.URL.Query().Get("token")
	if credential == "" {
		credential = r.Header.Get("Authorization")
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.sessions.Add(1)
	defer s.sessions.Done()

	transport := NewTransport(conn, s.cfg.WriteTimeout, s.cfg.PingInterval, s.cfg.ReadLimit)
	go transport.Keepalive(s.cfg.PingInterval)

	_ = s.gateway.Serve(r.Context(), services.ConnectRequest{
		RoomID:     r.PathValue("roomID"),
		Credential: credential,
		RemoteAddr: r.RemoteAddr,
	}, transport)
	_ = transport.Close(nil)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// handleToken is the OAuth2 password grant form login.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid form"})
		return
	}
	token, err := s.auth.Login(r.PostForm.Get("username"), r.PostForm.Get("password"))
	switch {
	case goerrors.Is(err, errors.ErrInvalidCredentials):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect username or password"})
		return
	case err != nil:
		s.log.Error("Login failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token.String(), TokenType: "bearer"})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := decoder.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "invalid", "detail": "invalid json body"})
		return
	}
	_, err := s.auth.Register(req)
	switch {
	case goerrors.Is(err, errors.ErrUserAlreadyExists):
		writeJSON(w, http.StatusOK, map[string]string{"status": "user_taken"})
	case goerrors.Is(err, errors.ErrInvalidSignup):
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "invalid", "detail": strings.TrimPrefix(err.Error(), errors.ErrInvalidSignup.Error()+": ")})
	case err != nil:
		s.log.Error("Signup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
	default:
		s.log.Info("User signed up", "username", req.Username)
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
