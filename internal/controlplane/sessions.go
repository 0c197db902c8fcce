package controlplane

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"clspiov/internal/models"
)

// SessionInfo is one row of GET /api/sessions (§4.9:
// "{id, streamName, playerState}").
type SessionInfo struct {
	ID          models.SessionId  `json:"id"`
	StreamName  string            `json:"streamName"`
	PlayerState models.PlayerState `json:"playerState"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.registry.Sessions()
	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		state, _ := sess.PlayerState()
		out = append(out, SessionInfo{
			ID:          sess.ID(),
			StreamName:  sess.StreamName(),
			PlayerState: state,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRetrySession(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	if err := s.registry.Retry(models.SessionId(id)); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "retried"})
}
