package handlers

import (
	"net/http"

	"chargehub/internal/apperr"
	"chargehub/internal/auth"
	"chargehub/internal/users"
)

// NewSignupHandler returns POST /api/auth/signup.
func NewSignupHandler(svc *users.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email    string `json:"email"`
			Name     string `json:"name"`
			Password string `json:"password"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if body.Email == "" || body.Password == "" {
			writeError(w, apperr.Validation("missing required fields: email, password"))
			return
		}

		user, err := svc.Register(r.Context(), body.Email, body.Name, body.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"user": user})
	}
}

// NewLoginHandler returns POST /api/auth/login.
func NewLoginHandler(svc *users.Service, tokens *auth.JWT) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if body.Email == "" || body.Password == "" {
			writeError(w, apperr.Validation("missing required fields: email, password"))
			return
		}

		user, err := svc.Authenticate(r.Context(), body.Email, body.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		token, err := tokens.Issue(*user)
		if err != nil {
			writeError(w, apperr.Internal(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"token": token, "user": user})
	}
}
