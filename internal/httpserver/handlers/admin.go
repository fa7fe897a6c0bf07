package handlers

import (
	"net/http"

	"chargehub/internal/apperr"
	"chargehub/internal/httpserver/middleware"
	"chargehub/internal/models"
	"chargehub/internal/users"
)

// NewListUsersHandler returns GET /api/admin/users.
func NewListUsersHandler(svc *users.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"users": list})
	}
}

// NewUpdateUserRoleHandler returns PATCH /api/admin/users/{id}/role.
func NewUpdateUserRoleHandler(svc *users.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Role string `json:"role"`
		}
		if !decodeBody(w, r, &body) {
			return
		}

		user, err := svc.UpdateRole(r.Context(), r.PathValue("id"), models.Role(body.Role))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
	}
}

// NewBlockUserHandler returns PATCH /api/admin/users/{id}/block.
func NewBlockUserHandler(svc *users.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Blocked *bool `json:"blocked"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if body.Blocked == nil {
			writeError(w, apperr.Validation("missing required fields: blocked"))
			return
		}

		// Admins cannot lock themselves out.
		if ident, ok := middleware.IdentityFrom(r.Context()); ok && ident.UserID == r.PathValue("id") && *body.Blocked {
			writeError(w, apperr.Validation("you cannot block your own account"))
			return
		}

		user, err := svc.SetBlocked(r.Context(), r.PathValue("id"), *body.Blocked)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
	}
}

// NewDeleteUserHandler returns DELETE /api/admin/users/{id}.
func NewDeleteUserHandler(svc *users.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ident, ok := middleware.IdentityFrom(r.Context()); ok && ident.UserID == r.PathValue("id") {
			writeError(w, apperr.Validation("you cannot delete your own account"))
			return
		}
		if err := svc.Delete(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// NewGetProfileHandler returns GET /api/profile for the caller.
func NewGetProfileHandler(svc *users.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, ok := middleware.IdentityFrom(r.Context())
		if !ok {
			writeError(w, apperr.Unauthorized("authentication required"))
			return
		}

		user, err := svc.Get(r.Context(), ident.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
	}
}

// NewUpdateProfileHandler returns PATCH /api/profile for the caller.
func NewUpdateProfileHandler(svc *users.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, ok := middleware.IdentityFrom(r.Context())
		if !ok {
			writeError(w, apperr.Unauthorized("authentication required"))
			return
		}

		var body struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &body) {
			return
		}

		user, err := svc.UpdateName(r.Context(), ident.UserID, body.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
	}
}
