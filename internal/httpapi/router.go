package httpapi

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MrEthical07/mindgate/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.recoverer)
	r.Use(s.accessLog)

	// Monitoring
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.exporter.Handler())
	if s.meters != nil {
		r.Get("/debug/metrics", s.handleDebugMetrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(withDeviceID(s.cfg.SecureCookies))

		r.Route("/api", func(r chi.Router) {
			r.Route("/auth", func(r chi.Router) {
				r.Post("/signin", s.handleSignIn)
				r.Post("/signup", s.handleSignUp)
				r.Post("/signout", s.handleSignOut)
				r.Get("/session", s.handleSession)
			})

			// Catalogue: access token from the Authorization header or
			// the device session
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireSession(s.engine, s.deviceToken))

				r.Get("/tracks", s.handleListTracks)
				r.Get("/tracks/{type}/{id}", s.handleGetTrack)
				r.Get("/progress", s.handleAllProgress)
				r.Get("/progress/{id}", s.handleGetProgress)
				r.Get("/progress/{id}/track", s.handleTrackWithProgress)
				r.Post("/progress/{id}/complete", s.handleMarkCompleted)
			})
		})

		// Verification links land here; the code is redeemed before any
		// guard runs.
		r.Get("/auth/callback", s.handleCallback)
		r.Get("/auth/auth-code-error", s.handleCodeError)
		r.Get("/auth/events", s.handleEvents)

		// Server-rendered pages
		r.Group(func(r chi.Router) {
			r.Use(middleware.Pages(s.policy, s.holderFor, s.cfg.ReadyTimeout))

			r.Get("/", s.handleHome)
			r.Get("/login", s.handleLoginPage)
			r.Post("/login", s.handleLoginForm)
			r.Get("/signup", s.handleSignupPage)
			r.Post("/signup", s.handleSignupForm)
			r.Get("/account", s.handleAccount)
			r.Post("/logout", s.handleLogoutForm)
			r.Get("/play/{type}/{id}", s.handlePlay)
			r.Get("/{type}", s.handleTrackList)
		})
	})

	return r
}

// holderFor adapts the registry to middleware.Pages.
func (s *Server) holderFor(_ http.ResponseWriter, r *http.Request) (middleware.HolderView, error) {
	d, err := s.device(r)
	if err != nil {
		return nil, err
	}
	return d.Holder, nil
}

// deviceToken supplies the device's access token to RequireSession,
// refreshing it first when it has expired.
func (s *Server) deviceToken(r *http.Request) (string, bool) {
	d, ok := s.devices.Lookup(deviceIDFromContext(r.Context()))
	if !ok {
		return "", false
	}
	sess, err := d.Client.GetSession(r.Context())
	if err != nil || sess == nil {
		return "", false
	}
	return sess.AccessToken, true
}

/* ==================== MIDDLEWARE ==================== */

type requestIDKey struct{}

// requestID propagates X-Request-ID, generating one when absent.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.Error("panic in handler", "panic", v, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed for the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelDebug
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		id, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"request_id", id,
		)
	})
}
