package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargehub/internal/apperr"
)

func TestStationTransitions(t *testing.T) {
	allowed := []struct{ from, to string }{
		{"NEW", "ACTIVE"},
		{"ACTIVE", "MAINTENANCE"},
		{"ACTIVE", "OUT_OF_ORDER"},
		{"MAINTENANCE", "ACTIVE"},
		{"OUT_OF_ORDER", "ACTIVE"},
	}
	for _, tc := range allowed {
		assert.NoError(t, Validate(EntityStation, tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to string }{
		{"NEW", "MAINTENANCE"},
		{"NEW", "OUT_OF_ORDER"},
		{"ACTIVE", "NEW"},
		{"MAINTENANCE", "OUT_OF_ORDER"},
		{"OUT_OF_ORDER", "MAINTENANCE"},
	}
	for _, tc := range denied {
		err := Validate(EntityStation, tc.from, tc.to)
		require.Error(t, err, "%s -> %s", tc.from, tc.to)
		assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
	}
}

func TestPortTransitions(t *testing.T) {
	allowed := []struct{ from, to string }{
		{"FREE", "CHARGING"},
		{"FREE", "RESERVED"},
		{"RESERVED", "CHARGING"},
		{"RESERVED", "FREE"},
		{"CHARGING", "FREE"},
		{"CHARGING", "ERROR"},
		{"ERROR", "FREE"},
	}
	for _, tc := range allowed {
		assert.NoError(t, Validate(EntityPort, tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to string }{
		{"FREE", "ERROR"},
		{"ERROR", "CHARGING"},
		{"ERROR", "RESERVED"},
		{"CHARGING", "RESERVED"},
	}
	for _, tc := range denied {
		assert.Error(t, Validate(EntityPort, tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestSessionTransitions(t *testing.T) {
	assert.NoError(t, Validate(EntitySession, "STARTED", "IN_PROGRESS"))
	assert.NoError(t, Validate(EntitySession, "STARTED", "FAILED"))
	// IN_PROGRESS may remain in place for periodic updates.
	assert.NoError(t, Validate(EntitySession, "IN_PROGRESS", "IN_PROGRESS"))
	assert.NoError(t, Validate(EntitySession, "IN_PROGRESS", "COMPLETED"))
	assert.NoError(t, Validate(EntitySession, "IN_PROGRESS", "INTERRUPTED"))
	assert.NoError(t, Validate(EntitySession, "IN_PROGRESS", "FAILED"))

	// No self-loop unless listed.
	assert.Error(t, Validate(EntitySession, "STARTED", "STARTED"))
	assert.Error(t, Validate(EntitySession, "STARTED", "COMPLETED"))
	assert.Error(t, Validate(EntitySession, "STARTED", "INTERRUPTED"))
}

func TestTerminalSessionStatesRejectEverything(t *testing.T) {
	for _, terminal := range []string{"COMPLETED", "INTERRUPTED", "FAILED"} {
		for _, next := range []string{"STARTED", "IN_PROGRESS", "COMPLETED", "INTERRUPTED", "FAILED"} {
			err := Validate(EntitySession, terminal, next)
			require.Error(t, err, "%s -> %s", terminal, next)
			assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
			assert.Contains(t, err.Error(), "terminal")
		}
		assert.Empty(t, Allowed(EntitySession, terminal))
	}
}

func TestValidateUnknownState(t *testing.T) {
	err := Validate(EntityStation, "DEMOLISHED", "ACTIVE")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
}

func TestValidateCarriesAllowedStates(t *testing.T) {
	err := Validate(EntityPort, "ERROR", "CHARGING")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FREE")
}
