package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MrEthical07/mindgate"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionView is what the browser learns about a session. Tokens stay on
// the server.
type sessionView struct {
	User      mindgate.Identity `json:"user"`
	ExpiresAt time.Time         `json:"expires_at"`
}

func viewOf(sess *mindgate.Session) *sessionView {
	if sess == nil {
		return nil
	}
	return &sessionView{User: sess.User, ExpiresAt: sess.ExpiresAt}
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
		case errors.Is(err, io.EOF):
			writeBadRequest(w, "request body is empty")
		default:
			writeBadRequest(w, "invalid JSON body")
		}
		return false
	}
	return true
}

// handleSignIn signs the device in. The holder learns about the session
// from the client's notification, not from this handler.
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	d, err := s.device(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	sess, err := d.Flow.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	d.Await(r.Context(), s.cfg.ReadyTimeout, holding(sess.AccessToken))
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	d, err := s.device(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := d.Flow.SignUp(r.Context(), req.Email, req.Password); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": signUpConfirmation,
	})
}

const signUpConfirmation = "Check your email to confirm your account."

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	d, err := s.device(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := d.Flow.SignOut(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	d.Await(r.Context(), s.cfg.ReadyTimeout, signedOut)
	w.WriteHeader(http.StatusNoContent)
}

// handleSession reports the holder's state once it has resolved or the
// ready timeout has passed.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	d, err := s.device(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	timer := time.NewTimer(s.cfg.ReadyTimeout)
	defer timer.Stop()
	select {
	case <-d.Holder.Ready():
	case <-timer.C:
	case <-r.Context().Done():
		return
	}

	snap := d.Holder.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"session": viewOf(snap.Session),
		"loading": snap.Loading,
	})
}

// handleCallback redeems a verification code and continues to next.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	next := s.policy.SafeReturn(r.URL.Query().Get("next"))

	if code == "" {
		http.Redirect(w, r, codeErrorPath, http.StatusFound)
		return
	}
	d, err := s.device(r)
	if err != nil {
		http.Redirect(w, r, codeErrorPath, http.StatusFound)
		return
	}
	sess, err := d.Client.ExchangeCodeForSession(r.Context(), code)
	if err != nil {
		s.logger.Info("code exchange failed", "error", err)
		http.Redirect(w, r, codeErrorPath, http.StatusFound)
		return
	}
	d.Await(r.Context(), s.cfg.ReadyTimeout, holding(sess.AccessToken))
	http.Redirect(w, r, next, http.StatusFound)
}

const codeErrorPath = "/auth/auth-code-error"
