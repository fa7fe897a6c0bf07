package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chargehub/internal/apperr"
	"chargehub/internal/gateway"
	"chargehub/internal/models"
	"chargehub/internal/registry"
)

type fixture struct {
	store    gateway.Store
	registry *registry.Registry
	locks    *MemoryExclusivity
	manager  *Manager
	station  *models.Station
}

func newFixture(t *testing.T, store gateway.Store) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	reg := registry.New(store, logger)
	locks := NewMemoryExclusivity()
	mgr := NewManager(store, reg, locks, nil, logger)

	station, err := reg.CreateStation(ctx, registry.CreateStationInput{
		Name:         "Test Station",
		Address:      "1 Test Way",
		Latitude:     50,
		Longitude:    10,
		TotalPorts:   3,
		PowerKw:      120,
		TariffPerKwh: 0.50,
	})
	require.NoError(t, err)
	_, err = reg.UpdateStationStatus(ctx, station.StationID, models.StationActive)
	require.NoError(t, err)
	station, err = reg.GetStation(ctx, station.StationID)
	require.NoError(t, err)

	return &fixture{store: store, registry: reg, locks: locks, manager: mgr, station: station}
}

func TestStartSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())
	portID := f.station.Ports[0].PortID

	sess, err := f.manager.StartSession(ctx, "user-1", f.station.StationID, portID, 80)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStarted, sess.Status)
	assert.Equal(t, 0.0, sess.ChargePercent)
	assert.Equal(t, 0.0, sess.EnergyConsumedKwh)
	assert.Equal(t, 0.0, sess.TotalCost)
	assert.Equal(t, 80.0, sess.BatteryCapacityKwh)
	// The tariff is snapshotted at start.
	assert.Equal(t, 0.50, sess.TariffPerKwh)
	assert.Nil(t, sess.CompletedAt)

	station, err := f.registry.GetStation(ctx, f.station.StationID)
	require.NoError(t, err)
	assert.Equal(t, models.PortCharging, station.Ports[0].Status)
}

func TestStartSessionDefaultsBatteryCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())

	sess, err := f.manager.StartSession(ctx, "user-1", f.station.StationID, f.station.Ports[0].PortID, 0)
	require.NoError(t, err)
	assert.Equal(t, float64(DefaultBatteryCapacityKwh), sess.BatteryCapacityKwh)

	_, err = f.manager.StartSession(ctx, "user-2", f.station.StationID, f.station.Ports[1].PortID, -5)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestStartSessionTariffSnapshotSurvivesTariffChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())

	sess, err := f.manager.StartSession(ctx, "user-1", f.station.StationID, f.station.Ports[0].PortID, 60)
	require.NoError(t, err)

	_, err = f.registry.UpdateTariff(ctx, f.station.StationID, 0.99)
	require.NoError(t, err)

	loaded, err := f.manager.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 0.50, loaded.TariffPerKwh)
}

func TestStartSessionRejectsInactiveStation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())
	_, err := f.registry.UpdateStationStatus(ctx, f.station.StationID, models.StationMaintenance)
	require.NoError(t, err)

	_, err = f.manager.StartSession(ctx, "user-1", f.station.StationID, f.station.Ports[0].PortID, 60)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "MAINTENANCE")
}

func TestStartSessionRejectsBusyPort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())
	portID := f.station.Ports[0].PortID

	_, err := f.manager.StartSession(ctx, "user-1", f.station.StationID, portID, 60)
	require.NoError(t, err)

	_, err = f.manager.StartSession(ctx, "user-2", f.station.StationID, portID, 60)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestStartSessionEnforcesUserExclusivity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())

	_, err := f.manager.StartSession(ctx, "user-1", f.station.StationID, f.station.Ports[0].PortID, 60)
	require.NoError(t, err)

	_, err = f.manager.StartSession(ctx, "user-1", f.station.StationID, f.station.Ports[1].PortID, 60)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "active charging session")
}

func TestStartSessionReclaimsOrphanedMarker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())

	// A crash left the user's marker behind with no live session backing it.
	acquired, err := f.locks.Acquire(ctx, "user-1", "sess-ghost")
	require.NoError(t, err)
	require.True(t, acquired)

	sess, err := f.manager.StartSession(ctx, "user-1", f.station.StationID, f.station.Ports[0].PortID, 60)
	require.NoError(t, err)

	holder, err := f.locks.Holder(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID, holder)
}

// rendezvousLocks holds every Reclaim call at a barrier until all expected
// callers have arrived, so racing starts hit the swap at the same moment.
type rendezvousLocks struct {
	*MemoryExclusivity
	arrive *sync.WaitGroup
}

func (l *rendezvousLocks) Reclaim(ctx context.Context, userID, expected, sessionID string) (bool, error) {
	l.arrive.Done()
	l.arrive.Wait()
	return l.MemoryExclusivity.Reclaim(ctx, userID, expected, sessionID)
}

func TestStartSessionConcurrentOrphanReclaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())

	var arrive sync.WaitGroup
	arrive.Add(2)
	locks := &rendezvousLocks{MemoryExclusivity: NewMemoryExclusivity(), arrive: &arrive}
	mgr := NewManager(f.store, f.registry, locks, nil, zap.NewNop())

	acquired, err := locks.MemoryExclusivity.Acquire(ctx, "user-1", "sess-ghost")
	require.NoError(t, err)
	require.True(t, acquired)

	// Both starts observe the orphaned marker and race to reclaim it.
	results := make(chan error, 2)
	for _, portID := range []string{f.station.Ports[0].PortID, f.station.Ports[1].PortID} {
		go func(p string) {
			_, err := mgr.StartSession(ctx, "user-1", f.station.StationID, p, 60)
			results <- err
		}(portID)
	}

	var conflicts int
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
			conflicts++
		}
	}
	require.Equal(t, 1, conflicts, "exactly one start may win the reclaim")

	active, err := mgr.GetActiveSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

// commitOnReclaim lets a reclaim succeed and then commits a live session for
// the user, reproducing a start that was still in flight when its fresh
// marker was mistaken for an orphan.
type commitOnReclaim struct {
	*MemoryExclusivity
	store     gateway.Store
	userID    string
	sessionID string
	station   *models.Station
	committed bool
}

func (l *commitOnReclaim) Reclaim(ctx context.Context, userID, expected, sessionID string) (bool, error) {
	swapped, err := l.MemoryExclusivity.Reclaim(ctx, userID, expected, sessionID)
	if err != nil || !swapped || l.committed {
		return swapped, err
	}
	l.committed = true
	now := time.Now().UTC()
	sess := models.Session{
		SessionID:          l.sessionID,
		UserID:             l.userID,
		StationID:          l.station.StationID,
		PortID:             l.station.Ports[0].PortID,
		Status:             models.SessionStarted,
		TariffPerKwh:       l.station.TariffPerKwh,
		BatteryCapacityKwh: 60,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	key := gateway.Key{PK: "SESSION#" + l.sessionID, SK: "METADATA"}
	if err := l.store.Put(ctx, gateway.KindSessions, key, sess, true); err != nil {
		return false, err
	}
	return true, nil
}

func TestStartSessionHandsFreshMarkerBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())

	locks := &commitOnReclaim{
		MemoryExclusivity: NewMemoryExclusivity(),
		store:             f.store,
		userID:            "user-1",
		sessionID:         "sess-inflight",
		station:           f.station,
	}
	mgr := NewManager(f.store, f.registry, locks, nil, zap.NewNop())

	// The marker belongs to a start that has not written its session yet.
	acquired, err := locks.MemoryExclusivity.Acquire(ctx, "user-1", "sess-inflight")
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = mgr.StartSession(ctx, "user-1", f.station.StationID, f.station.Ports[1].PortID, 60)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// The slot went back to the in-flight session, not to the rejected start.
	holder, err := locks.MemoryExclusivity.Holder(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-inflight", holder)
}

func TestStartSessionUnknownPort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())

	_, err := f.manager.StartSession(ctx, "user-1", f.station.StationID, "port-nope", 60)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

// stalePortStore serves port records as FREE on reads while leaving writes
// untouched, forcing the start saga to lose the port compare-and-swap after
// the session record already exists.
type stalePortStore struct {
	gateway.Store
}

func (s *stalePortStore) QueryPrefix(ctx context.Context, kind gateway.Kind, pk, skPrefix string) ([]gateway.Item, error) {
	items, err := s.Store.QueryPrefix(ctx, kind, pk, skPrefix)
	if err != nil {
		return nil, err
	}
	for i, it := range items {
		if len(it.Key.SK) > 5 && it.Key.SK[:5] == "PORT#" {
			var fields map[string]any
			if err := json.Unmarshal(it.Doc, &fields); err != nil {
				return nil, err
			}
			fields["status"] = "FREE"
			doc, err := json.Marshal(fields)
			if err != nil {
				return nil, err
			}
			items[i].Doc = doc
		}
	}
	return items, nil
}

func TestStartSessionCompensatesOnPortAllocationLoss(t *testing.T) {
	ctx := context.Background()
	mem := gateway.NewMemory()
	f := newFixture(t, &stalePortStore{Store: mem})
	portID := f.station.Ports[0].PortID

	winner, err := f.manager.StartSession(ctx, "user-1", f.station.StationID, portID, 60)
	require.NoError(t, err)

	// user-2 sees a stale FREE port, passes the early check, then loses the
	// conditional port write.
	_, err = f.manager.StartSession(ctx, "user-2", f.station.StationID, portID, 60)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// The loser's session was compensated to FAILED and the slot released.
	history, err := f.manager.GetUserSessionHistory(ctx, "user-2")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.SessionFailed, history[0].Status)
	assert.NotNil(t, history[0].CompletedAt)

	holder, err := f.locks.Holder(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, holder)

	// The winner is untouched.
	kept, err := f.manager.GetSession(ctx, winner.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStarted, kept.Status)
}

func TestStopSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())
	portID := f.station.Ports[0].PortID

	sess, err := f.manager.StartSession(ctx, "user-1", f.station.StationID, portID, 60)
	require.NoError(t, err)

	// A session is stoppable straight from STARTED.
	stopped, err := f.manager.StopSession(ctx, sess.SessionID, "user-1", false)
	require.NoError(t, err)
	assert.Equal(t, models.SessionInterrupted, stopped.Status)
	require.NotNil(t, stopped.CompletedAt)

	station, err := f.registry.GetStation(ctx, f.station.StationID)
	require.NoError(t, err)
	assert.Equal(t, models.PortFree, station.Ports[0].Status)

	// The user can start a new session immediately.
	_, err = f.manager.StartSession(ctx, "user-1", f.station.StationID, portID, 60)
	require.NoError(t, err)
}

func TestStopSessionOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())

	sess, err := f.manager.StartSession(ctx, "user-1", f.station.StationID, f.station.Ports[0].PortID, 60)
	require.NoError(t, err)

	// A non-owner without force gets a validation error, not forbidden, so
	// the response does not confirm whose session it is.
	_, err = f.manager.StopSession(ctx, sess.SessionID, "user-2", false)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	// Force stop works for support staff.
	stopped, err := f.manager.StopSession(ctx, sess.SessionID, "tech-1", true)
	require.NoError(t, err)
	assert.Equal(t, models.SessionInterrupted, stopped.Status)
}

func TestStopSessionTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())

	sess, err := f.manager.StartSession(ctx, "user-1", f.station.StationID, f.station.Ports[0].PortID, 60)
	require.NoError(t, err)
	_, err = f.manager.StopSession(ctx, sess.SessionID, "user-1", false)
	require.NoError(t, err)

	_, err = f.manager.StopSession(ctx, sess.SessionID, "user-1", false)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "INTERRUPTED")
}

func TestStopSessionNotFound(t *testing.T) {
	f := newFixture(t, gateway.NewMemory())
	_, err := f.manager.StopSession(context.Background(), "sess-missing", "user-1", false)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSaveProgressConcurrentStopWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())

	sess, err := f.manager.StartSession(ctx, "user-1", f.station.StationID, f.station.Ports[0].PortID, 60)
	require.NoError(t, err)

	prev := *sess
	next := prev
	next.Status = models.SessionInProgress
	next.ChargePercent = 5

	// The session is stopped between the tick computation and the save.
	_, err = f.manager.StopSession(ctx, sess.SessionID, "user-1", false)
	require.NoError(t, err)

	err = f.manager.SaveProgress(ctx, prev, next)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	loaded, err := f.manager.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionInterrupted, loaded.Status)
}

func TestSaveProgressTerminalFreesPortAndLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())

	sess, err := f.manager.StartSession(ctx, "user-1", f.station.StationID, f.station.Ports[0].PortID, 60)
	require.NoError(t, err)

	inProgress := *sess
	inProgress.Status = models.SessionInProgress
	require.NoError(t, f.manager.SaveProgress(ctx, *sess, inProgress))

	completed := inProgress
	completed.Status = models.SessionCompleted
	completed.ChargePercent = 100
	now := time.Now().UTC()
	completed.CompletedAt = &now
	require.NoError(t, f.manager.SaveProgress(ctx, inProgress, completed))

	station, err := f.registry.GetStation(ctx, f.station.StationID)
	require.NoError(t, err)
	assert.Equal(t, models.PortFree, station.Ports[0].Status)

	holder, err := f.locks.Holder(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestGetActiveSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())

	active, err := f.manager.GetActiveSession(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, active)

	sess, err := f.manager.StartSession(ctx, "user-1", f.station.StationID, f.station.Ports[0].PortID, 60)
	require.NoError(t, err)

	active, err = f.manager.GetActiveSession(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, sess.SessionID, active.SessionID)

	_, err = f.manager.StopSession(ctx, sess.SessionID, "user-1", false)
	require.NoError(t, err)

	active, err = f.manager.GetActiveSession(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestGetUserSessionHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())

	var ids []string
	for i := 0; i < 3; i++ {
		sess, err := f.manager.StartSession(ctx, "user-1", f.station.StationID, f.station.Ports[0].PortID, 60)
		require.NoError(t, err)
		ids = append(ids, sess.SessionID)
		_, err = f.manager.StopSession(ctx, sess.SessionID, "user-1", false)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond) // distinct createdAt ordering
	}

	history, err := f.manager.GetUserSessionHistory(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ids[2], history[0].SessionID)
	assert.Equal(t, ids[0], history[2].SessionID)
}

func TestGetAllSessionsStatusFilter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())

	s1, err := f.manager.StartSession(ctx, "user-1", f.station.StationID, f.station.Ports[0].PortID, 60)
	require.NoError(t, err)
	_, err = f.manager.StartSession(ctx, "user-2", f.station.StationID, f.station.Ports[1].PortID, 60)
	require.NoError(t, err)
	_, err = f.manager.StopSession(ctx, s1.SessionID, "user-1", false)
	require.NoError(t, err)

	all, err := f.manager.GetAllSessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	interrupted, err := f.manager.GetAllSessions(ctx, models.SessionInterrupted)
	require.NoError(t, err)
	require.Len(t, interrupted, 1)
	assert.Equal(t, s1.SessionID, interrupted[0].SessionID)
}

func TestGetActiveSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gateway.NewMemory())

	active, err := f.manager.GetActiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	s1, err := f.manager.StartSession(ctx, "user-1", f.station.StationID, f.station.Ports[0].PortID, 60)
	require.NoError(t, err)
	_, err = f.manager.StartSession(ctx, "user-2", f.station.StationID, f.station.Ports[1].PortID, 60)
	require.NoError(t, err)

	// Move one to IN_PROGRESS; both still count as active.
	inProgress := *s1
	inProgress.Status = models.SessionInProgress
	require.NoError(t, f.manager.SaveProgress(ctx, *s1, inProgress))

	active, err = f.manager.GetActiveSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}
