package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/opensyndicate/syndicate/internal/auth"
	"github.com/opensyndicate/syndicate/internal/broadcast"
	"github.com/opensyndicate/syndicate/internal/config"
	"github.com/opensyndicate/syndicate/internal/docstore"
	"github.com/opensyndicate/syndicate/internal/files"
	"github.com/opensyndicate/syndicate/internal/metrics"
	"github.com/opensyndicate/syndicate/internal/platform/rss"
	"github.com/opensyndicate/syndicate/internal/platform/twitter"
)

// Deps carries the collaborators the HTTP layer serves. Feed, OAuth, and
// Tokens may be nil when the corresponding feature is not configured; the
// routes then answer with an explanatory error instead of panicking.
type Deps struct {
	Broadcaster *broadcast.Broadcaster
	Files       *files.Service
	Feed        *rss.Client
	Auth        *auth.Manager
	OAuth       *oauth2.Config
	Tokens      *twitter.TokenStore
	Docs        docstore.Store
}

// Server wires HTTP handlers to the broadcaster, the file service, and the
// feed.
type Server struct {
	router      chi.Router
	broadcaster *broadcast.Broadcaster
	files       *files.Service
	feed        *rss.Client
	auth        *auth.Manager
	oauth       *oauth2.Config
	tokens      *twitter.TokenStore
	docs        docstore.Store
	stateTTL    time.Duration
	cfg         config.Config
	logger      *zap.Logger
}

// oauthStateTTL bounds how long a pending authorization may take.
const oauthStateTTL = 10 * time.Minute

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	s := &Server{
		broadcaster: deps.Broadcaster,
		files:       deps.Files,
		feed:        deps.Feed,
		auth:        deps.Auth,
		oauth:       deps.OAuth,
		tokens:      deps.Tokens,
		docs:        deps.Docs,
		stateTTL:    oauthStateTTL,
		cfg:         cfg,
		logger:      logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(s.requestTimeout()))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/files/{uuid}", s.serveFile)
	r.Route("/rss", func(r chi.Router) {
		r.Get("/", s.rssFeed)
		r.Get("/target/{target}", s.rssTargetFeed)
		r.Get("/{uuid}", s.rssEntry)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.login)
		// The callback arrives from the user's browser, which carries no
		// bearer token.
		r.Get("/twitter/callback", s.twitterCallback)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Guard)
			r.Get("/protected", s.protected)
			r.Get("/twitter/login", s.twitterLogin)
			r.Post("/files/upload", s.uploadFile)
			r.Post("/multiple/post", s.broadcastPost)
			r.Post("/{platform}/post", s.platformPost)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestTimeout() time.Duration {
	if s.cfg.Server.RequestTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.cfg.Server.RequestTimeoutSeconds) * time.Second
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.docs.Ping(ctx); err != nil {
		s.logger.Warn("readiness probe failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "document store unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeBroadcastError maps request-level broadcast failures onto their HTTP
// status.
func (s *Server) writeBroadcastError(w http.ResponseWriter, err error) {
	var apiErr broadcast.APIError
	if errors.As(err, &apiErr) {
		s.writeError(w, apiErr.StatusCode(), apiErr.Error())
		return
	}
	s.logger.Error("broadcast failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "broadcast failed")
}

type requestIDKey struct{}

// RequestID returns the request's correlation ID, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("dur", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
				)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}
