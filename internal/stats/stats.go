// Package stats derives the operational dashboard view from station and
// session snapshots. It never writes.
package stats

import (
	"context"
	"math"

	"chargehub/internal/models"
	"chargehub/internal/registry"
	"chargehub/internal/session"
)

// Overview is the aggregated dashboard record. Field names are part of the
// compatibility surface.
type Overview struct {
	ActiveSessions       int                          `json:"activeSessions"`
	TotalStations        int                          `json:"totalStations"`
	TotalPorts           int                          `json:"totalPorts"`
	OccupiedPorts        int                          `json:"occupiedPorts"`
	PortOccupancyPercent float64                      `json:"portOccupancyPercent"`
	FaultyStations       int                          `json:"faultyStations"`
	StationsByStatus     map[models.StationStatus]int `json:"stationsByStatus"`
}

// Compute aggregates a snapshot. Per-status counts are zero-filled for all
// four station states; occupancy is rounded to 2 decimals via
// multiply-round-divide.
func Compute(stations []models.Station, activeSessions []models.Session) Overview {
	byStatus := make(map[models.StationStatus]int, len(models.StationStatuses))
	for _, s := range models.StationStatuses {
		byStatus[s] = 0
	}

	totalPorts := 0
	faulty := 0
	for _, st := range stations {
		totalPorts += st.TotalPorts
		byStatus[st.Status]++
		if st.Status == models.StationOutOfOrder || st.Status == models.StationMaintenance {
			faulty++
		}
	}

	occupied := len(activeSessions)
	occupancy := 0.0
	if totalPorts > 0 {
		occupancy = math.Round(float64(occupied)/float64(totalPorts)*10000) / 100
	}

	return Overview{
		ActiveSessions:       len(activeSessions),
		TotalStations:        len(stations),
		TotalPorts:           totalPorts,
		OccupiedPorts:        occupied,
		PortOccupancyPercent: occupancy,
		FaultyStations:       faulty,
		StationsByStatus:     byStatus,
	}
}

// Service loads the snapshots and computes the overview.
type Service struct {
	registry *registry.Registry
	sessions *session.Manager
}

// NewService returns a stats aggregator.
func NewService(reg *registry.Registry, sessions *session.Manager) *Service {
	return &Service{registry: reg, sessions: sessions}
}

// Overview computes current occupancy and fault counts.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	active, err := s.sessions.GetActiveSessions(ctx)
	if err != nil {
		return Overview{}, err
	}
	stations, err := s.registry.ListStations(ctx)
	if err != nil {
		return Overview{}, err
	}
	return Compute(stations, active), nil
}
