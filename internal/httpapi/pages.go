package httpapi

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/mindgate"
	"github.com/MrEthical07/mindgate/authflow"
	"github.com/MrEthical07/mindgate/catalog"
	"github.com/MrEthical07/mindgate/middleware"
)

//go:embed templates/*.html
var templateFS embed.FS

type pageRenderer struct {
	tmpl *template.Template
}

func newPageRenderer() (*pageRenderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &pageRenderer{tmpl: tmpl}, nil
}

// pageData is the common view model. Page-specific fields are zero when
// unused.
type pageData struct {
	Title string
	User  *mindgate.Identity

	Error       string
	Notice      string
	Email       string
	ReturnTo    string
	ReturnParam string

	Types     []catalog.TrackType
	Completed int
	Type      catalog.TrackType
	Tracks    []catalog.Track
	Track     *catalog.TrackWithProgress
	ExpiresAt string
}

// render executes into a buffer so a template error never leaves a half
// written page.
func (p *pageRenderer) render(w http.ResponseWriter, status int, name string, data pageData) error {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	if sess := middleware.SessionFromContext(r.Context()); sess != nil && data.User == nil {
		user := sess.User
		data.User = &user
	}
	if err := s.pages.render(w, status, name, data); err != nil {
		s.logger.Error("render page failed", "page", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) notFoundPage(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, http.StatusNotFound, "not-found", pageData{Title: "Not found"})
}

func sessionUserID(r *http.Request) string {
	if sess := middleware.SessionFromContext(r.Context()); sess != nil {
		return sess.User.ID
	}
	return ""
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	data := pageData{Title: "Home", Types: catalog.TrackTypes}
	progress, err := s.catalog.AllProgress(r.Context(), sessionUserID(r))
	if err != nil {
		s.logger.Warn("load progress failed", "error", err)
	}
	for _, p := range progress {
		if p.Completed {
			data.Completed++
		}
	}
	s.renderPage(w, r, http.StatusOK, "home", data)
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, http.StatusOK, "login", pageData{
		Title:       "Sign in",
		ReturnTo:    r.URL.Query().Get(s.policy.ReturnParam),
		ReturnParam: s.policy.ReturnParam,
	})
}

// handleLoginForm signs in and continues to the page the visitor was
// sent away from. Rejections re-render the form with the flow's message.
func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeBadRequest(w, "invalid form")
		return
	}
	email := r.PostForm.Get("email")
	returnTo := r.PostForm.Get(s.policy.ReturnParam)

	d, err := s.device(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	sess, err := d.Flow.SignIn(r.Context(), email, r.PostForm.Get("password"))
	if err != nil {
		status, _ := toHTTP(err)
		s.renderPage(w, r, status, "login", pageData{
			Title:       "Sign in",
			Error:       messageFor(err, status),
			Email:       email,
			ReturnTo:    returnTo,
			ReturnParam: s.policy.ReturnParam,
		})
		return
	}
	d.Await(r.Context(), s.cfg.ReadyTimeout, holding(sess.AccessToken))
	http.Redirect(w, r, s.policy.SafeReturn(returnTo), http.StatusSeeOther)
}

func (s *Server) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, http.StatusOK, "signup", pageData{Title: "Sign up"})
}

func (s *Server) handleSignupForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeBadRequest(w, "invalid form")
		return
	}
	email := r.PostForm.Get("email")

	d, err := s.device(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := d.Flow.SignUp(r.Context(), email, r.PostForm.Get("password")); err != nil {
		status, _ := toHTTP(err)
		s.renderPage(w, r, status, "signup", pageData{
			Title: "Sign up",
			Error: messageFor(err, status),
			Email: email,
		})
		return
	}
	s.renderPage(w, r, http.StatusOK, "signup", pageData{Title: "Sign up", Notice: signUpConfirmation})
}

func (s *Server) handleLogoutForm(w http.ResponseWriter, r *http.Request) {
	d, err := s.device(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := d.Flow.SignOut(r.Context()); err != nil {
		// a transport failure keeps the session; tell the user
		if kind, _ := authflow.KindOf(err); kind == authflow.KindNetwork {
			s.renderPage(w, r, http.StatusServiceUnavailable, "account", s.accountData(r, messageFor(err, http.StatusServiceUnavailable)))
			return
		}
	}
	d.Await(r.Context(), s.cfg.ReadyTimeout, signedOut)
	http.Redirect(w, r, s.policy.SignInPath, http.StatusSeeOther)
}

func (s *Server) accountData(r *http.Request, errMsg string) pageData {
	data := pageData{Title: "Account", Error: errMsg}
	if sess := middleware.SessionFromContext(r.Context()); sess != nil {
		user := sess.User
		data.User = &user
		data.ExpiresAt = sess.ExpiresAt.UTC().Format(time.RFC1123)
	}
	return data
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, http.StatusOK, "account", s.accountData(r, ""))
}

func (s *Server) handleTrackList(w http.ResponseWriter, r *http.Request) {
	typ, err := catalog.ParseTrackType(chi.URLParam(r, "type"))
	if err != nil {
		s.notFoundPage(w, r)
		return
	}
	tracks, err := s.catalog.TracksByType(r.Context(), string(typ))
	if err != nil {
		s.logger.Error("list tracks failed", "type", string(typ), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.renderPage(w, r, http.StatusOK, "tracks", pageData{Title: string(typ), Type: typ, Tracks: tracks})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	track, err := s.catalog.Track(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil || track == nil {
		s.notFoundPage(w, r)
		return
	}
	twp, err := s.catalog.TrackWithProgress(r.Context(), sessionUserID(r), chi.URLParam(r, "id"))
	if err != nil || twp == nil {
		s.notFoundPage(w, r)
		return
	}
	s.renderPage(w, r, http.StatusOK, "play", pageData{Title: track.Title, Track: twp})
}

func (s *Server) handleCodeError(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, http.StatusOK, "code-error", pageData{Title: "Link expired"})
}
