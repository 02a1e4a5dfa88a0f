package api

import (
	"net/http"
	"time"

	"arbitra/auth"
)

type identityResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func toIdentityResponse(i auth.Identity) identityResponse {
	return identityResponse{ID: i.ID.String(), Name: string(i.Name), CreatedAt: i.CreatedAt}
}

type sessionResponse struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expiresAt"`
	Identity  identityResponse `json:"identity"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	identity, err := s.auth.Register(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, "identity", toIdentityResponse(identity))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	res, err := s.auth.Login(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "session", sessionResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		Identity:  toIdentityResponse(res.Identity),
	})
}
