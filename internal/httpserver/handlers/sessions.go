package handlers

import (
	"net/http"

	"chargehub/internal/apperr"
	"chargehub/internal/auth"
	"chargehub/internal/httpserver/middleware"
	"chargehub/internal/models"
	"chargehub/internal/session"
)

type startSessionBody struct {
	StationID          string   `json:"stationId"`
	PortID             string   `json:"portId"`
	BatteryCapacityKwh *float64 `json:"batteryCapacityKwh"`
}

// NewStartSessionHandler returns POST /api/sessions/start. The user comes
// from the verified token, never from the body.
func NewStartSessionHandler(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, ok := middleware.IdentityFrom(r.Context())
		if !ok {
			writeError(w, apperr.Unauthorized("authentication required"))
			return
		}

		var body startSessionBody
		if !decodeBody(w, r, &body) {
			return
		}
		if body.StationID == "" || body.PortID == "" {
			writeError(w, apperr.Validation("missing required fields: stationId, portId"))
			return
		}
		capacity := float64(session.DefaultBatteryCapacityKwh)
		if body.BatteryCapacityKwh != nil {
			capacity = *body.BatteryCapacityKwh
		}

		sess, err := mgr.StartSession(r.Context(), ident.UserID, body.StationID, body.PortID, capacity)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"session": sess})
	}
}

// NewStopSessionHandler returns POST /api/sessions/{id}/stop. Roles with the
// force-stop grant may stop anyone's session.
func NewStopSessionHandler(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, ok := middleware.IdentityFrom(r.Context())
		if !ok {
			writeError(w, apperr.Unauthorized("authentication required"))
			return
		}

		force := auth.CanForceStop(ident.Role)
		sess, err := mgr.StopSession(r.Context(), r.PathValue("id"), ident.UserID, force)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"session": sess})
	}
}

// NewActiveSessionHandler returns GET /api/sessions/active for the caller.
// No active session answers 200 with a null session, not 404.
func NewActiveSessionHandler(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, ok := middleware.IdentityFrom(r.Context())
		if !ok {
			writeError(w, apperr.Unauthorized("authentication required"))
			return
		}

		sess, err := mgr.GetActiveSession(r.Context(), ident.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"session": sess})
	}
}

// NewSessionHistoryHandler returns GET /api/sessions/history for the caller.
func NewSessionHistoryHandler(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, ok := middleware.IdentityFrom(r.Context())
		if !ok {
			writeError(w, apperr.Unauthorized("authentication required"))
			return
		}

		sessions, err := mgr.GetUserSessionHistory(r.Context(), ident.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
	}
}

// NewGetSessionHandler returns GET /api/sessions/{id}. Regular users may
// only read their own sessions.
func NewGetSessionHandler(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, ok := middleware.IdentityFrom(r.Context())
		if !ok {
			writeError(w, apperr.Unauthorized("authentication required"))
			return
		}

		sess, err := mgr.GetSession(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		// Support staff and admins may inspect any session.
		if sess.UserID != ident.UserID && ident.Role == models.RoleUser {
			writeError(w, apperr.Forbidden("you can only view your own sessions"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"session": sess})
	}
}

// NewListSessionsHandler returns GET /api/sessions with an optional
// ?status= filter. Support and admin only.
func NewListSessionsHandler(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var filter models.SessionStatus
		if raw := r.URL.Query().Get("status"); raw != "" {
			switch s := models.SessionStatus(raw); s {
			case models.SessionStarted, models.SessionInProgress, models.SessionCompleted,
				models.SessionInterrupted, models.SessionFailed:
				filter = s
			default:
				writeError(w, apperr.Validation("status must be one of: STARTED, IN_PROGRESS, COMPLETED, INTERRUPTED, FAILED"))
				return
			}
		}

		sessions, err := mgr.GetAllSessions(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
	}
}
