// Package registry owns Station and Port entities: creation, status queries
// and transition-gated mutation. It is the only writer of station and port
// records.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargehub/internal/apperr"
	"chargehub/internal/fsm"
	"chargehub/internal/gateway"
	"chargehub/internal/models"
)

const metadataSK = "METADATA"

func stationPK(stationID string) string { return "STATION#" + stationID }
func portSK(portID string) string       { return "PORT#" + portID }

// Registry coordinates station and port state over the persistence gateway.
type Registry struct {
	store  gateway.Store
	logger *zap.Logger
}

// New returns a station registry.
func New(store gateway.Store, logger *zap.Logger) *Registry {
	return &Registry{store: store, logger: logger}
}

// CreateStationInput carries the station creation parameters.
type CreateStationInput struct {
	Name         string
	Address      string
	Latitude     float64
	Longitude    float64
	TotalPorts   int
	PowerKw      float64
	TariffPerKwh float64
}

func (in CreateStationInput) validate() error {
	if in.Name == "" || in.Address == "" {
		return apperr.Validation("name and address are required")
	}
	if in.Latitude < -90 || in.Latitude > 90 {
		return apperr.Validation("latitude must be between -90 and 90")
	}
	if in.Longitude < -180 || in.Longitude > 180 {
		return apperr.Validation("longitude must be between -180 and 180")
	}
	if in.TotalPorts <= 0 {
		return apperr.Validation("totalPorts must be a positive number")
	}
	if in.PowerKw <= 0 {
		return apperr.Validation("powerKw must be a positive number")
	}
	if in.TariffPerKwh <= 0 {
		return apperr.Validation("tariffPerKwh must be a positive number")
	}
	return nil
}

// CreateStation validates the input, then writes the station in NEW status
// together with its ports, numbered 1..TotalPorts and all FREE. The returned
// station carries an empty port list; callers needing ports re-fetch.
func (r *Registry) CreateStation(ctx context.Context, in CreateStationInput) (*models.Station, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	stationID := "station-" + uuid.NewString()[:8]
	now := time.Now().UTC()

	station := models.Station{
		StationID:    stationID,
		Name:         in.Name,
		Address:      in.Address,
		Latitude:     in.Latitude,
		Longitude:    in.Longitude,
		TotalPorts:   in.TotalPorts,
		PowerKw:      in.PowerKw,
		TariffPerKwh: in.TariffPerKwh,
		Status:       models.StationNew,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	key := gateway.Key{PK: stationPK(stationID), SK: metadataSK}
	if err := r.store.Put(ctx, gateway.KindStations, key, station, true); err != nil {
		if errors.Is(err, gateway.ErrPreconditionFailed) {
			return nil, apperr.Conflict("station id collision, retry")
		}
		return nil, err
	}

	for i := 1; i <= in.TotalPorts; i++ {
		port := models.Port{
			PortID:     fmt.Sprintf("port-%s-%03d", stationID, i),
			StationID:  stationID,
			PortNumber: i,
			Status:     models.PortFree,
			UpdatedAt:  now,
		}
		portKey := gateway.Key{PK: stationPK(stationID), SK: portSK(port.PortID)}
		if err := r.store.Put(ctx, gateway.KindStations, portKey, port, false); err != nil {
			return nil, err
		}
	}

	r.logger.Info("station created",
		zap.String("stationId", stationID),
		zap.Int("totalPorts", in.TotalPorts))

	station.Ports = []models.Port{}
	return &station, nil
}

// GetStation returns the station with its ports, sorted by port number.
func (r *Registry) GetStation(ctx context.Context, stationID string) (*models.Station, error) {
	items, err := r.store.QueryPrefix(ctx, gateway.KindStations, stationPK(stationID), "")
	if err != nil {
		return nil, err
	}

	var (
		station *models.Station
		ports   []models.Port
	)
	for _, it := range items {
		switch {
		case it.Key.SK == metadataSK:
			s, err := gateway.Decode[models.Station](it.Doc)
			if err != nil {
				return nil, apperr.Internal(err)
			}
			station = &s
		case len(it.Key.SK) > 5 && it.Key.SK[:5] == "PORT#":
			p, err := gateway.Decode[models.Port](it.Doc)
			if err != nil {
				return nil, apperr.Internal(err)
			}
			ports = append(ports, p)
		}
	}
	if station == nil {
		return nil, apperr.NotFound("Station", stationID)
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].PortNumber < ports[j].PortNumber })
	if ports == nil {
		ports = []models.Port{}
	}
	station.Ports = ports
	return station, nil
}

// ListStations returns every station without its ports.
func (r *Registry) ListStations(ctx context.Context) ([]models.Station, error) {
	items, err := r.store.Scan(ctx, gateway.KindStations, nil)
	if err != nil {
		return nil, err
	}
	return decodeStations(items)
}

// GetStationsByStatus returns stations currently in the given status.
func (r *Registry) GetStationsByStatus(ctx context.Context, status models.StationStatus) ([]models.Station, error) {
	items, err := r.store.QueryIndex(ctx, gateway.KindStations, gateway.Query{Attr: "status", Value: string(status)})
	if err != nil {
		return nil, err
	}
	return decodeStations(items)
}

// UpdateStationStatus moves the station along the station transition table.
// The write is conditioned on the status it validated against, so two
// concurrent updates cannot both apply.
func (r *Registry) UpdateStationStatus(ctx context.Context, stationID string, next models.StationStatus) (*models.Station, error) {
	key := gateway.Key{PK: stationPK(stationID), SK: metadataSK}
	doc, err := r.store.Get(ctx, gateway.KindStations, key)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, apperr.NotFound("Station", stationID)
		}
		return nil, err
	}
	current, err := gateway.Decode[models.Station](doc)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if err := fsm.Validate(fsm.EntityStation, string(current.Status), string(next)); err != nil {
		return nil, err
	}

	updated, err := r.store.Update(ctx, gateway.KindStations, key,
		map[string]any{"status": next, "updatedAt": time.Now().UTC()},
		&gateway.Precondition{Attr: "status", Equals: string(current.Status)})
	if err != nil {
		if errors.Is(err, gateway.ErrPreconditionFailed) {
			return nil, apperr.Conflict("station %s status changed concurrently", stationID)
		}
		return nil, err
	}

	station, err := gateway.Decode[models.Station](updated)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	r.logger.Info("station status updated",
		zap.String("stationId", stationID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(next)))
	return &station, nil
}

// UpdateTariff sets a new tariff. Sessions already open keep the tariff they
// snapshotted at start.
func (r *Registry) UpdateTariff(ctx context.Context, stationID string, tariffPerKwh float64) (*models.Station, error) {
	if tariffPerKwh <= 0 {
		return nil, apperr.Validation("tariffPerKwh must be a positive number")
	}

	key := gateway.Key{PK: stationPK(stationID), SK: metadataSK}
	updated, err := r.store.Update(ctx, gateway.KindStations, key,
		map[string]any{"tariffPerKwh": tariffPerKwh, "updatedAt": time.Now().UTC()}, nil)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, apperr.NotFound("Station", stationID)
		}
		return nil, err
	}

	station, err := gateway.Decode[models.Station](updated)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &station, nil
}

// UpdatePortStatus moves a port along the port transition table, conditioned
// on the validated prior status.
func (r *Registry) UpdatePortStatus(ctx context.Context, stationID, portID string, next models.PortStatus) (*models.Port, error) {
	key := gateway.Key{PK: stationPK(stationID), SK: portSK(portID)}
	doc, err := r.store.Get(ctx, gateway.KindStations, key)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, apperr.NotFound("Port", portID)
		}
		return nil, err
	}
	current, err := gateway.Decode[models.Port](doc)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if err := fsm.Validate(fsm.EntityPort, string(current.Status), string(next)); err != nil {
		return nil, err
	}
	return r.casPort(ctx, key, current.Status, next)
}

// AllocatePort claims a port for charging. The FREE -> CHARGING write is a
// compare-and-swap: of two concurrent allocations exactly one succeeds.
func (r *Registry) AllocatePort(ctx context.Context, stationID, portID string) (*models.Port, error) {
	key := gateway.Key{PK: stationPK(stationID), SK: portSK(portID)}
	port, err := r.casPort(ctx, key, models.PortFree, models.PortCharging)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			return nil, apperr.Conflict("port %s is no longer free", portID)
		}
		return nil, err
	}
	return port, nil
}

// ReleasePort returns a port to FREE from whatever releasable state it is in.
// Releasing an already free port is a no-op.
func (r *Registry) ReleasePort(ctx context.Context, stationID, portID string) error {
	key := gateway.Key{PK: stationPK(stationID), SK: portSK(portID)}
	doc, err := r.store.Get(ctx, gateway.KindStations, key)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return apperr.NotFound("Port", portID)
		}
		return err
	}
	port, err := gateway.Decode[models.Port](doc)
	if err != nil {
		return apperr.Internal(err)
	}
	if port.Status == models.PortFree {
		return nil
	}
	if err := fsm.Validate(fsm.EntityPort, string(port.Status), string(models.PortFree)); err != nil {
		return err
	}

	_, err = r.casPort(ctx, key, port.Status, models.PortFree)
	return err
}

// GetFreePorts returns the station's ports currently FREE.
func (r *Registry) GetFreePorts(ctx context.Context, stationID string) ([]models.Port, error) {
	items, err := r.store.QueryPrefix(ctx, gateway.KindStations, stationPK(stationID), "PORT#")
	if err != nil {
		return nil, err
	}

	free := []models.Port{}
	for _, it := range items {
		p, err := gateway.Decode[models.Port](it.Doc)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if p.Status == models.PortFree {
			free = append(free, p)
		}
	}
	sort.Slice(free, func(i, j int) bool { return free[i].PortNumber < free[j].PortNumber })
	return free, nil
}

func (r *Registry) casPort(ctx context.Context, key gateway.Key, from, to models.PortStatus) (*models.Port, error) {
	updated, err := r.store.Update(ctx, gateway.KindStations, key,
		map[string]any{"status": to, "updatedAt": time.Now().UTC()},
		&gateway.Precondition{Attr: "status", Equals: string(from)})
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, apperr.NotFound("Port", key.SK)
		}
		if errors.Is(err, gateway.ErrPreconditionFailed) {
			return nil, apperr.Conflict("port status changed concurrently")
		}
		return nil, err
	}

	port, err := gateway.Decode[models.Port](updated)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &port, nil
}

func decodeStations(items []gateway.Item) ([]models.Station, error) {
	stations := []models.Station{}
	for _, it := range items {
		if it.Key.SK != metadataSK {
			continue
		}
		s, err := gateway.Decode[models.Station](it.Doc)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		stations = append(stations, s)
	}
	return stations, nil
}
