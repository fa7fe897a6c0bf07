package handlers

import (
	"net/http"

	"chargehub/internal/apperr"
	"chargehub/internal/models"
	"chargehub/internal/registry"
)

func parseStationStatus(raw string) (models.StationStatus, error) {
	switch s := models.StationStatus(raw); s {
	case models.StationNew, models.StationActive, models.StationMaintenance, models.StationOutOfOrder:
		return s, nil
	}
	return "", apperr.Validation("status must be one of: NEW, ACTIVE, MAINTENANCE, OUT_OF_ORDER")
}

// NewListStationsHandler returns GET /api/stations with an optional
// ?status= filter.
func NewListStationsHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			stations []models.Station
			err      error
		)
		if raw := r.URL.Query().Get("status"); raw != "" {
			status, perr := parseStationStatus(raw)
			if perr != nil {
				writeError(w, perr)
				return
			}
			stations, err = reg.GetStationsByStatus(r.Context(), status)
		} else {
			stations, err = reg.ListStations(r.Context())
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"stations": stations})
	}
}

// NewGetStationHandler returns GET /api/stations/{id}.
func NewGetStationHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		station, err := reg.GetStation(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"station": station})
	}
}

type createStationBody struct {
	Name         string   `json:"name"`
	Address      string   `json:"address"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	TotalPorts   *int     `json:"totalPorts"`
	PowerKw      *float64 `json:"powerKw"`
	TariffPerKwh *float64 `json:"tariffPerKwh"`
}

// NewCreateStationHandler returns POST /api/stations.
func NewCreateStationHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createStationBody
		if !decodeBody(w, r, &body) {
			return
		}
		if body.Name == "" || body.Address == "" || body.Latitude == nil || body.Longitude == nil ||
			body.TotalPorts == nil || body.PowerKw == nil || body.TariffPerKwh == nil {
			writeError(w, apperr.Validation("missing required fields: name, address, latitude, longitude, totalPorts, powerKw, tariffPerKwh"))
			return
		}

		station, err := reg.CreateStation(r.Context(), registry.CreateStationInput{
			Name:         body.Name,
			Address:      body.Address,
			Latitude:     *body.Latitude,
			Longitude:    *body.Longitude,
			TotalPorts:   *body.TotalPorts,
			PowerKw:      *body.PowerKw,
			TariffPerKwh: *body.TariffPerKwh,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"station": station})
	}
}

// NewUpdateStationStatusHandler returns PATCH /api/stations/{id}/status.
func NewUpdateStationStatusHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Status string `json:"status"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		status, err := parseStationStatus(body.Status)
		if err != nil {
			writeError(w, err)
			return
		}

		station, err := reg.UpdateStationStatus(r.Context(), r.PathValue("id"), status)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"station": station})
	}
}

// NewUpdateTariffHandler returns PATCH /api/stations/{id}/tariff.
func NewUpdateTariffHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			TariffPerKwh *float64 `json:"tariffPerKwh"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if body.TariffPerKwh == nil {
			writeError(w, apperr.Validation("missing required fields: tariffPerKwh"))
			return
		}

		station, err := reg.UpdateTariff(r.Context(), r.PathValue("id"), *body.TariffPerKwh)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"station": station})
	}
}

// NewFreePortsHandler returns GET /api/stations/{id}/free-ports.
func NewFreePortsHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Surface NotFound for unknown stations instead of an empty list.
		if _, err := reg.GetStation(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, err)
			return
		}
		ports, err := reg.GetFreePorts(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ports": ports})
	}
}
