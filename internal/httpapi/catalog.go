package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/mindgate/middleware"
)

// userID is set by RequireSession on every catalogue route.
func userID(r *http.Request) string {
	res, ok := middleware.AuthResultFromContext(r.Context())
	if !ok {
		return ""
	}
	return res.UserID
}

func (s *Server) handleListTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.catalog.TracksByType(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
}

func (s *Server) handleGetTrack(w http.ResponseWriter, r *http.Request) {
	track, err := s.catalog.Track(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if track == nil {
		writeNotFound(w, "track not found")
		return
	}
	writeJSON(w, http.StatusOK, track)
}

func (s *Server) handleAllProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.catalog.AllProgress(r.Context(), userID(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": progress})
}

// handleGetProgress answers with a null progress when the user has not
// started the track.
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.catalog.Progress(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": progress})
}

func (s *Server) handleTrackWithProgress(w http.ResponseWriter, r *http.Request) {
	twp, err := s.catalog.TrackWithProgress(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if twp == nil {
		writeNotFound(w, "track not found")
		return
	}
	writeJSON(w, http.StatusOK, twp)
}

func (s *Server) handleMarkCompleted(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.MarkCompleted(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
