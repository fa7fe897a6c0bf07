// Package session owns the Session lifecycle: start/stop, per-user
// exclusivity and the coupling between a session and its charging port.
// It is the only writer of session records; port writes go through the
// station registry.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargehub/internal/apperr"
	"chargehub/internal/fsm"
	"chargehub/internal/gateway"
	"chargehub/internal/models"
	"chargehub/internal/registry"
)

// DefaultBatteryCapacityKwh is assumed when a start request does not name
// the vehicle's battery capacity.
const DefaultBatteryCapacityKwh = 60

const metadataSK = "METADATA"

func sessionPK(sessionID string) string { return "SESSION#" + sessionID }

// FaultReporter receives operational faults the manager could not resolve
// inline (e.g. a port release failing after the session terminalized).
type FaultReporter interface {
	Report(ctx context.Context, service, level, message string, details map[string]any)
}

// Manager coordinates session lifecycle over the gateway, the station
// registry and the exclusivity store.
type Manager struct {
	store    gateway.Store
	registry *registry.Registry
	locks    ExclusivityStore
	faults   FaultReporter
	logger   *zap.Logger
}

// NewManager builds a session manager. faults may be nil.
func NewManager(store gateway.Store, reg *registry.Registry, locks ExclusivityStore, faults FaultReporter, logger *zap.Logger) *Manager {
	return &Manager{store: store, registry: reg, locks: locks, faults: faults, logger: logger}
}

// StartSession creates a session on a free port of an active station.
//
// Ordering matters: the user's exclusivity slot is claimed with a
// conditional write before the session record exists, and the port is
// claimed with a FREE-conditioned compare-and-swap afterwards. If the port
// swap loses, the freshly created session is compensated to FAILED and the
// slot is released, so no dangling session can keep a port busy.
func (m *Manager) StartSession(ctx context.Context, userID, stationID, portID string, batteryCapacityKwh float64) (*models.Session, error) {
	if batteryCapacityKwh == 0 {
		batteryCapacityKwh = DefaultBatteryCapacityKwh
	}
	if batteryCapacityKwh < 0 {
		return nil, apperr.Validation("batteryCapacityKwh must be a positive number")
	}

	station, err := m.registry.GetStation(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if station.Status != models.StationActive {
		return nil, apperr.Validation("station is %s, cannot start charging", station.Status)
	}

	var port *models.Port
	for i := range station.Ports {
		if station.Ports[i].PortID == portID {
			port = &station.Ports[i]
			break
		}
	}
	if port == nil {
		return nil, apperr.NotFound("Port", portID)
	}
	if port.Status != models.PortFree {
		return nil, apperr.Conflict("port %s is currently %s", portID, port.Status)
	}

	sessionID := "sess-" + uuid.NewString()[:8]

	acquired, err := m.locks.Acquire(ctx, userID, sessionID)
	if err != nil {
		return nil, apperr.Unavailable("session lock", err)
	}
	if !acquired {
		holder, err := m.locks.Holder(ctx, userID)
		if err != nil {
			return nil, apperr.Unavailable("session lock", err)
		}
		active, err := m.findActiveSession(ctx, userID)
		if err != nil {
			return nil, err
		}
		if active != nil {
			return nil, apperr.Conflict("you already have an active charging session")
		}
		// Marker orphaned by a crash; no live session backs it. The swap is
		// conditioned on the holder observed above, so at most one of any
		// concurrent starts reclaims the slot.
		swapped, err := m.locks.Reclaim(ctx, userID, holder, sessionID)
		if err != nil {
			return nil, apperr.Unavailable("session lock", err)
		}
		if !swapped {
			return nil, apperr.Conflict("you already have an active charging session")
		}
		if active, err := m.findActiveSession(ctx, userID); err != nil {
			m.releaseLock(ctx, userID)
			return nil, err
		} else if active != nil {
			// The marker was not an orphan after all: a start still in
			// flight owned it. Hand the slot to that session.
			if _, err := m.locks.Reclaim(ctx, userID, sessionID, active.SessionID); err != nil {
				return nil, apperr.Unavailable("session lock", err)
			}
			return nil, apperr.Conflict("you already have an active charging session")
		}
	} else {
		active, err := m.findActiveSession(ctx, userID)
		if err != nil {
			m.releaseLock(ctx, userID)
			return nil, err
		}
		if active != nil {
			m.releaseLock(ctx, userID)
			return nil, apperr.Conflict("you already have an active charging session")
		}
	}

	now := time.Now().UTC()
	session := models.Session{
		SessionID:          sessionID,
		UserID:             userID,
		StationID:          stationID,
		PortID:             portID,
		Status:             models.SessionStarted,
		ChargePercent:      0,
		EnergyConsumedKwh:  0,
		TotalCost:          0,
		TariffPerKwh:       station.TariffPerKwh,
		BatteryCapacityKwh: batteryCapacityKwh,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	key := gateway.Key{PK: sessionPK(sessionID), SK: metadataSK}
	if err := m.store.Put(ctx, gateway.KindSessions, key, session, true); err != nil {
		m.releaseLock(ctx, userID)
		if errors.Is(err, gateway.ErrPreconditionFailed) {
			return nil, apperr.Conflict("session id collision, retry")
		}
		return nil, err
	}

	if _, err := m.registry.AllocatePort(ctx, stationID, portID); err != nil {
		m.failSession(ctx, key, userID, sessionID)
		return nil, err
	}

	m.logger.Info("session started",
		zap.String("sessionId", sessionID),
		zap.String("userId", userID),
		zap.String("portId", portID))

	rounded := session.Rounded()
	return &rounded, nil
}

// failSession compensates a session whose port allocation lost the race.
func (m *Manager) failSession(ctx context.Context, key gateway.Key, userID, sessionID string) {
	now := time.Now().UTC()
	_, err := m.store.Update(ctx, gateway.KindSessions, key,
		map[string]any{"status": models.SessionFailed, "updatedAt": now, "completedAt": now},
		&gateway.Precondition{Attr: "status", Equals: string(models.SessionStarted)})
	if err != nil {
		m.logger.Error("failed to compensate session after port allocation loss",
			zap.String("sessionId", sessionID), zap.Error(err))
		if m.faults != nil {
			m.faults.Report(ctx, "session_manager", "ERROR",
				"session left in STARTED after port allocation loss",
				map[string]any{"sessionId": sessionID})
		}
	}
	m.releaseLock(ctx, userID)
}

// StopSession terminalizes a session as INTERRUPTED and frees its port.
// Unless force is set, only the owner may stop it; the ownership violation
// is a validation error so the response does not reveal whether some other
// user's session exists.
func (m *Manager) StopSession(ctx context.Context, sessionID, requestingUserID string, force bool) (*models.Session, error) {
	key := gateway.Key{PK: sessionPK(sessionID), SK: metadataSK}
	doc, err := m.store.Get(ctx, gateway.KindSessions, key)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, apperr.NotFound("Session", sessionID)
		}
		return nil, err
	}
	session, err := gateway.Decode[models.Session](doc)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if !force && session.UserID != requestingUserID {
		return nil, apperr.Validation("you can only stop your own sessions")
	}
	// Stop accepts any non-terminal session. STARTED is stoppable even
	// though the charging progression itself never moves STARTED straight
	// to INTERRUPTED.
	if session.Status.Terminal() {
		return nil, apperr.InvalidTransition("session is %s, cannot stop", session.Status)
	}

	now := time.Now().UTC()
	updated, err := m.store.Update(ctx, gateway.KindSessions, key,
		map[string]any{"status": models.SessionInterrupted, "updatedAt": now, "completedAt": now},
		&gateway.Precondition{Attr: "status", Equals: string(session.Status)})
	if err != nil {
		if errors.Is(err, gateway.ErrPreconditionFailed) {
			return nil, apperr.Conflict("session %s changed concurrently, retry", sessionID)
		}
		return nil, err
	}

	m.freePortAfterTerminal(ctx, session)
	m.releaseLock(ctx, session.UserID)

	m.logger.Info("session stopped",
		zap.String("sessionId", sessionID),
		zap.Bool("force", force))

	result, err := gateway.Decode[models.Session](updated)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	result = result.Rounded()
	return &result, nil
}

// SaveProgress applies a charging tick computed elsewhere. The write is
// conditioned on the status the tick was computed from, so a concurrent stop
// wins and the stale tick is dropped. Terminal progress frees the port and
// the user's exclusivity slot.
func (m *Manager) SaveProgress(ctx context.Context, prev, next models.Session) error {
	if err := fsm.Validate(fsm.EntitySession, string(prev.Status), string(next.Status)); err != nil {
		return err
	}

	set := map[string]any{
		"status":            next.Status,
		"chargePercent":     models.Round2(next.ChargePercent),
		"energyConsumedKwh": models.Round4(next.EnergyConsumedKwh),
		"totalCost":         models.Round2(next.TotalCost),
		"updatedAt":         time.Now().UTC(),
	}
	if next.CompletedAt != nil {
		set["completedAt"] = next.CompletedAt
	}

	key := gateway.Key{PK: sessionPK(prev.SessionID), SK: metadataSK}
	_, err := m.store.Update(ctx, gateway.KindSessions, key, set,
		&gateway.Precondition{Attr: "status", Equals: string(prev.Status)})
	if err != nil {
		if errors.Is(err, gateway.ErrPreconditionFailed) {
			return apperr.Conflict("session %s changed concurrently", prev.SessionID)
		}
		return err
	}

	if next.Status.Terminal() {
		m.freePortAfterTerminal(ctx, next)
		m.releaseLock(ctx, next.UserID)
	}
	return nil
}

// GetSession returns one session by id.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	key := gateway.Key{PK: sessionPK(sessionID), SK: metadataSK}
	doc, err := m.store.Get(ctx, gateway.KindSessions, key)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, apperr.NotFound("Session", sessionID)
		}
		return nil, err
	}
	session, err := gateway.Decode[models.Session](doc)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	session = session.Rounded()
	return &session, nil
}

// GetActiveSession returns the user's most recent non-terminal session, or
// nil when the user is not charging.
func (m *Manager) GetActiveSession(ctx context.Context, userID string) (*models.Session, error) {
	active, err := m.findActiveSession(ctx, userID)
	if err != nil || active == nil {
		return nil, err
	}
	rounded := active.Rounded()
	return &rounded, nil
}

// GetUserSessionHistory returns all of the user's sessions, newest first.
func (m *Manager) GetUserSessionHistory(ctx context.Context, userID string) ([]models.Session, error) {
	items, err := m.store.QueryIndex(ctx, gateway.KindSessions,
		gateway.Query{Attr: "userId", Value: userID, Descending: true})
	if err != nil {
		return nil, err
	}
	return decodeSessions(items)
}

// GetAllSessions returns every session, optionally filtered by status.
func (m *Manager) GetAllSessions(ctx context.Context, statusFilter models.SessionStatus) ([]models.Session, error) {
	if statusFilter != "" {
		items, err := m.store.QueryIndex(ctx, gateway.KindSessions,
			gateway.Query{Attr: "status", Value: string(statusFilter), Descending: true})
		if err != nil {
			return nil, err
		}
		return decodeSessions(items)
	}

	items, err := m.store.Scan(ctx, gateway.KindSessions, nil)
	if err != nil {
		return nil, err
	}
	return decodeSessions(items)
}

// GetActiveSessions returns every STARTED or IN_PROGRESS session across all
// users, for occupancy accounting.
func (m *Manager) GetActiveSessions(ctx context.Context) ([]models.Session, error) {
	var all []models.Session
	for _, status := range []models.SessionStatus{models.SessionStarted, models.SessionInProgress} {
		items, err := m.store.QueryIndex(ctx, gateway.KindSessions,
			gateway.Query{Attr: "status", Value: string(status)})
		if err != nil {
			return nil, err
		}
		sessions, err := decodeSessions(items)
		if err != nil {
			return nil, err
		}
		all = append(all, sessions...)
	}
	if all == nil {
		all = []models.Session{}
	}
	return all, nil
}

func (m *Manager) findActiveSession(ctx context.Context, userID string) (*models.Session, error) {
	items, err := m.store.QueryIndex(ctx, gateway.KindSessions,
		gateway.Query{Attr: "userId", Value: userID, Descending: true})
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		s, err := gateway.Decode[models.Session](it.Doc)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if !s.Status.Terminal() {
			return &s, nil
		}
	}
	return nil, nil
}

// freePortAfterTerminal releases the session's port once the session is
// terminal. The session record is already immutable at this point, so a
// release failure is reported for reconciliation instead of failing the
// operation.
func (m *Manager) freePortAfterTerminal(ctx context.Context, session models.Session) {
	if err := m.registry.ReleasePort(ctx, session.StationID, session.PortID); err != nil {
		m.logger.Error("failed to free port after session terminalized",
			zap.String("sessionId", session.SessionID),
			zap.String("portId", session.PortID),
			zap.Error(err))
		if m.faults != nil {
			m.faults.Report(ctx, "session_manager", "ERROR",
				"port not freed after session terminalized",
				map[string]any{"sessionId": session.SessionID, "portId": session.PortID})
		}
	}
}

func (m *Manager) releaseLock(ctx context.Context, userID string) {
	if err := m.locks.Release(ctx, userID); err != nil {
		m.logger.Warn("failed to release user session lock",
			zap.String("userId", userID), zap.Error(err))
	}
}

func decodeSessions(items []gateway.Item) ([]models.Session, error) {
	sessions := []models.Session{}
	for _, it := range items {
		s, err := gateway.Decode[models.Session](it.Doc)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		sessions = append(sessions, s.Rounded())
	}
	return sessions, nil
}
