// Package simulator advances active charging sessions on a schedule,
// standing in for real hardware telemetry. Each run applies a series of
// short ticks per session using a nonlinear charging curve; a session
// reaching 100% is the only path to the COMPLETED state.
package simulator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chargehub/internal/apperr"
	"chargehub/internal/errorlog"
	"chargehub/internal/metrics"
	"chargehub/internal/models"
	"chargehub/internal/registry"
	"chargehub/internal/session"
)

// Notification is emitted at charging milestones and recorded through the
// error log service, mirroring an outbound push.
type Notification struct {
	Type              string
	SessionID         string
	UserID            string
	ChargePercent     float64
	EnergyConsumedKwh float64
	TotalCost         float64
}

const (
	NotifyChargingStarted   = "CHARGING_STARTED"
	NotifyCharge80Percent   = "CHARGE_80_PERCENT"
	NotifyChargingCompleted = "CHARGING_COMPLETED"
)

// PowerFactor is the nonlinear charging curve: full power below 70%, then
// tapering.
func PowerFactor(chargePercent float64) float64 {
	switch {
	case chargePercent < 70:
		return 1.0
	case chargePercent < 90:
		return 0.6
	default:
		return 0.3
	}
}

// Tick advances a session by tickSeconds of charging. The station's power is
// split evenly across its active sessions. Pure; persistence is the
// caller's concern.
func Tick(s models.Session, stationPowerKw float64, activeOnStation, tickSeconds int) (models.Session, []Notification) {
	var notifications []Notification

	if s.Status == models.SessionStarted {
		s.Status = models.SessionInProgress
		notifications = append(notifications, Notification{
			Type:      NotifyChargingStarted,
			SessionID: s.SessionID,
			UserID:    s.UserID,
		})
	}

	if activeOnStation < 1 {
		activeOnStation = 1
	}
	intervalHours := float64(tickSeconds) / 3600
	powerPerPort := stationPowerKw / float64(activeOnStation)
	effectivePower := powerPerPort * PowerFactor(s.ChargePercent)
	energyAdded := effectivePower * intervalHours

	oldPercent := s.ChargePercent
	newPercent := s.ChargePercent + energyAdded/s.BatteryCapacityKwh*100
	if newPercent > 100 {
		newPercent = 100
	}

	s.ChargePercent = models.Round2(newPercent)
	s.EnergyConsumedKwh = models.Round4(s.EnergyConsumedKwh + energyAdded)
	s.TotalCost = models.Round2(s.TotalCost + energyAdded*s.TariffPerKwh)
	s.UpdatedAt = time.Now().UTC()

	if oldPercent < 80 && newPercent >= 80 {
		notifications = append(notifications, Notification{
			Type:          NotifyCharge80Percent,
			SessionID:     s.SessionID,
			UserID:        s.UserID,
			ChargePercent: s.ChargePercent,
		})
	}

	if newPercent >= 100 {
		s.Status = models.SessionCompleted
		s.ChargePercent = 100
		completed := time.Now().UTC()
		s.CompletedAt = &completed
		notifications = append(notifications, Notification{
			Type:              NotifyChargingCompleted,
			SessionID:         s.SessionID,
			UserID:            s.UserID,
			EnergyConsumedKwh: s.EnergyConsumedKwh,
			TotalCost:         s.TotalCost,
		})
	}

	return s, notifications
}

// Simulator is the background worker.
type Simulator struct {
	sessions    *session.Manager
	registry    *registry.Registry
	errlog      *errorlog.Service
	metrics     *metrics.Metrics
	logger      *zap.Logger
	interval    time.Duration
	tickSeconds int
	ticksPerRun int
}

// New builds a simulator. metrics may be nil.
func New(sessions *session.Manager, reg *registry.Registry, errlog *errorlog.Service, m *metrics.Metrics, logger *zap.Logger, interval time.Duration, tickSeconds, ticksPerRun int) *Simulator {
	return &Simulator{
		sessions:    sessions,
		registry:    reg,
		errlog:      errlog,
		metrics:     m,
		logger:      logger,
		interval:    interval,
		tickSeconds: tickSeconds,
		ticksPerRun: ticksPerRun,
	}
}

// Run executes RunOnce on the configured interval until the context ends.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("charging simulator started",
		zap.Duration("interval", s.interval),
		zap.Int("ticksPerRun", s.ticksPerRun))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("charging simulator stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce advances every active session by up to ticksPerRun ticks.
func (s *Simulator) RunOnce(ctx context.Context) {
	active, err := s.sessions.GetActiveSessions(ctx)
	if err != nil {
		s.logger.Error("simulator: failed to load active sessions", zap.Error(err))
		if s.metrics != nil {
			s.metrics.SimulatorRuns.WithLabelValues("error").Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(len(active)))
	}
	if len(active) == 0 {
		if s.metrics != nil {
			s.metrics.SimulatorRuns.WithLabelValues("ok").Inc()
		}
		return
	}

	activePerStation := make(map[string]int, len(active))
	for _, sess := range active {
		activePerStation[sess.StationID]++
	}

	stationCache := make(map[string]*models.Station)
	for _, sess := range active {
		station, ok := stationCache[sess.StationID]
		if !ok {
			station, err = s.registry.GetStation(ctx, sess.StationID)
			if err != nil {
				s.logger.Error("simulator: failed to load station",
					zap.String("stationId", sess.StationID), zap.Error(err))
				s.errlog.Report(ctx, "charging_simulator", "ERROR",
					"station lookup failed during simulation",
					map[string]any{"stationId": sess.StationID, "sessionId": sess.SessionID})
				continue
			}
			stationCache[sess.StationID] = station
		}
		s.advance(ctx, sess, station, activePerStation[sess.StationID])
	}

	if s.metrics != nil {
		s.metrics.SimulatorRuns.WithLabelValues("ok").Inc()
	}
}

// advance applies up to ticksPerRun ticks, persisting after each one so
// every state move walks a legal transition and a concurrent stop wins.
func (s *Simulator) advance(ctx context.Context, sess models.Session, station *models.Station, activeOnStation int) {
	for i := 0; i < s.ticksPerRun; i++ {
		next, notifications := Tick(sess, station.PowerKw, activeOnStation, s.tickSeconds)

		if err := s.sessions.SaveProgress(ctx, sess, next); err != nil {
			if apperr.KindOf(err) == apperr.KindConflict {
				// The session was stopped mid-run; drop the stale tick.
				return
			}
			s.logger.Error("simulator: failed to save progress",
				zap.String("sessionId", sess.SessionID), zap.Error(err))
			s.errlog.Report(ctx, "charging_simulator", "ERROR",
				"failed to persist charging tick",
				map[string]any{"sessionId": sess.SessionID})
			return
		}

		for _, n := range notifications {
			s.publish(ctx, n)
		}
		if next.Status.Terminal() {
			return
		}
		sess = next
	}
}

func (s *Simulator) publish(ctx context.Context, n Notification) {
	details := map[string]any{
		"type":      n.Type,
		"sessionId": n.SessionID,
		"userId":    n.UserID,
	}
	if n.ChargePercent > 0 {
		details["chargePercent"] = n.ChargePercent
	}
	if n.Type == NotifyChargingCompleted {
		details["energyConsumedKwh"] = n.EnergyConsumedKwh
		details["totalCost"] = n.TotalCost
	}
	s.errlog.Notify(ctx, "notification_service",
		"["+n.Type+"] Session "+n.SessionID, details)
}
