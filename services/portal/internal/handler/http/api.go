package http

import (
	"encoding/json"
	"net/http"

	"PemkoPortal/pkg/errors"
	"PemkoPortal/pkg/identity"
	"PemkoPortal/pkg/logger"
	"PemkoPortal/pkg/session"
)

// sessionResponse снимок сессии для клиентских скриптов
type sessionResponse struct {
	IsAuthenticated bool           `json:"isAuthenticated"`
	IsLoading       bool           `json:"isLoading"`
	User            *identity.User `json:"user"`
}

// Session возвращает текущий снимок сессии
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	s, ok := session.FromContext(r.Context())
	if !ok {
		h.writeJSON(w, r, http.StatusOK, sessionResponse{})
		return
	}
	h.writeJSON(w, r, http.StatusOK, toSessionResponse(s.State()))
}

// RefreshSession повторно получает пользователя по сохраненному токену
func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	s, ok := session.FromContext(r.Context())
	if !ok {
		errors.WriteJSON(w, errors.New(errors.ErrUnauthorized, "session is not mounted"))
		return
	}

	st := s.RefreshUser(r.Context())
	if !st.IsAuthenticated {
		errors.WriteJSON(w, errors.New(errors.ErrUnauthorized, "session expired"))
		return
	}
	h.writeJSON(w, r, http.StatusOK, toSessionResponse(st))
}

func toSessionResponse(st session.State) sessionResponse {
	resp := sessionResponse{
		IsAuthenticated: st.IsAuthenticated,
		IsLoading:       st.IsLoading,
	}
	if st.IsAuthenticated {
		resp.User = st.User
	}
	return resp
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", logger.CtxField(r.Context()), logger.Error(err))
	}
}
