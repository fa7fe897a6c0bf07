// Package fsm validates entity lifecycle transitions against static
// per-entity transition tables. It never writes anything.
package fsm

import (
	"strings"

	"chargehub/internal/apperr"
	"chargehub/internal/models"
)

// EntityKind selects which transition table applies.
type EntityKind string

const (
	EntityStation EntityKind = "station"
	EntityPort    EntityKind = "port"
	EntitySession EntityKind = "session"
)

var stationTransitions = map[string][]string{
	string(models.StationNew):         {string(models.StationActive)},
	string(models.StationActive):      {string(models.StationMaintenance), string(models.StationOutOfOrder)},
	string(models.StationMaintenance): {string(models.StationActive)},
	string(models.StationOutOfOrder):  {string(models.StationActive)},
}

var portTransitions = map[string][]string{
	string(models.PortFree):     {string(models.PortCharging), string(models.PortReserved)},
	string(models.PortReserved): {string(models.PortCharging), string(models.PortFree)},
	string(models.PortCharging): {string(models.PortFree), string(models.PortError)},
	string(models.PortError):    {string(models.PortFree)},
}

// IN_PROGRESS allows remaining in place for periodic charging updates.
// COMPLETED, INTERRUPTED and FAILED are terminal.
var sessionTransitions = map[string][]string{
	string(models.SessionStarted):     {string(models.SessionInProgress), string(models.SessionFailed)},
	string(models.SessionInProgress):  {string(models.SessionInProgress), string(models.SessionCompleted), string(models.SessionInterrupted), string(models.SessionFailed)},
	string(models.SessionCompleted):   {},
	string(models.SessionInterrupted): {},
	string(models.SessionFailed):      {},
}

var tables = map[EntityKind]map[string][]string{
	EntityStation: stationTransitions,
	EntityPort:    portTransitions,
	EntitySession: sessionTransitions,
}

// Allowed returns the set of states reachable from current. The returned
// slice is shared; callers must not mutate it.
func Allowed(kind EntityKind, current string) []string {
	return tables[kind][current]
}

// Validate accepts or rejects a proposed transition. Rejections carry the
// attempted and allowed states for diagnostics.
func Validate(kind EntityKind, current, next string) error {
	allowed, known := tables[kind][current]
	if !known {
		return apperr.InvalidTransition("unknown %s state %q", kind, current)
	}
	for _, s := range allowed {
		if s == next {
			return nil
		}
	}
	if len(allowed) == 0 {
		return apperr.InvalidTransition("cannot transition %s from %s to %s: %s is terminal", kind, current, next, current)
	}
	return apperr.InvalidTransition("cannot transition %s from %s to %s, allowed: %s", kind, current, next, strings.Join(allowed, ", "))
}
