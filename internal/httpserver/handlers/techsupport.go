package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargehub/internal/apperr"
	"chargehub/internal/errorlog"
	"chargehub/internal/models"
	"chargehub/internal/registry"
	"chargehub/internal/stats"
)

// NewListErrorLogsHandler returns GET /api/errors with optional
// ?level= / ?service= / ?status= filters (first match wins).
func NewListErrorLogsHandler(errlog *errorlog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := errorlog.Filter{
			Level:   r.URL.Query().Get("level"),
			Service: r.URL.Query().Get("service"),
			Status:  models.LogStatus(r.URL.Query().Get("status")),
		}
		entries, err := errlog.List(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"errors": entries})
	}
}

// NewUpdateErrorStatusHandler returns PATCH /api/errors/{id}/status. The
// timestamp in the body disambiguates entries that share an error id.
func NewUpdateErrorStatusHandler(errlog *errorlog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Timestamp string `json:"timestamp"`
			Status    string `json:"status"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if body.Timestamp == "" || body.Status == "" {
			writeError(w, apperr.Validation("missing required fields: timestamp, status"))
			return
		}

		entry, err := errlog.UpdateStatus(r.Context(), r.PathValue("id"), body.Timestamp, models.LogStatus(body.Status))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"errorLog": entry})
	}
}

// NewUpdatePortStatusHandler returns PATCH /api/stations/{id}/ports/{portId}/status.
func NewUpdatePortStatusHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Status string `json:"status"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		switch s := models.PortStatus(body.Status); s {
		case models.PortFree, models.PortReserved, models.PortCharging, models.PortError:
			port, err := reg.UpdatePortStatus(r.Context(), r.PathValue("id"), r.PathValue("portId"), s)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"port": port})
		default:
			writeError(w, apperr.Validation("status must be one of: FREE, RESERVED, CHARGING, ERROR"))
		}
	}
}

// NewStatsHandler returns GET /api/stats.
func NewStatsHandler(svc *stats.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overview, err := svc.Overview(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"stats": overview})
	}
}

// NewStatsStreamHandler upgrades GET /api/stats/stream to a websocket and
// pushes a fresh overview on every interval until the client goes away.
func NewStatsStreamHandler(svc *stats.Service, interval time.Duration, logger *zap.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		// Drain client frames so close messages are noticed.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		send := func() bool {
			overview, err := svc.Overview(r.Context())
			if err != nil {
				logger.Warn("stats overview failed", zap.Error(err))
				return true
			}
			if err := conn.WriteJSON(overview); err != nil {
				return false
			}
			return true
		}

		if !send() {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if !send() {
					return
				}
			}
		}
	}
}
