package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"chargehub/internal/models"
)

func TestUserGrants(t *testing.T) {
	role := models.RoleUser
	allowed := []Permission{
		PermStationsRead,
		PermSessionsCreate,
		PermSessionsRead,
		PermSessionsStopOwn,
		PermProfileRead,
		PermProfileUpdate,
	}
	for _, p := range allowed {
		assert.True(t, Allowed(role, p), string(p))
	}

	denied := []Permission{
		PermStationsCreate,
		PermStationsSetMode,
		PermStationsUpdateTariff,
		PermSessionsForceStop,
		PermErrorsRead,
		PermErrorsUpdate,
		PermStatsRead,
		PermUsersManage,
	}
	for _, p := range denied {
		assert.False(t, Allowed(role, p), string(p))
	}
}

func TestTechSupportGrants(t *testing.T) {
	role := models.RoleTechSupport
	allowed := []Permission{
		PermStationsRead,
		PermStationsSetMode,
		PermSessionsRead,
		PermSessionsForceStop,
		PermErrorsRead,
		PermErrorsUpdate,
		PermStatsRead,
		PermProfileRead,
	}
	for _, p := range allowed {
		assert.True(t, Allowed(role, p), string(p))
	}

	denied := []Permission{
		PermStationsCreate,
		PermStationsUpdateTariff,
		PermSessionsCreate,
		PermSessionsStopOwn,
		PermUsersManage,
	}
	for _, p := range denied {
		assert.False(t, Allowed(role, p), string(p))
	}
}

// Admin carries the full-access grant, so every permission passes including
// ones outside its explicit list.
func TestAdminGrantsEverything(t *testing.T) {
	all := []Permission{
		PermStationsRead,
		PermStationsCreate,
		PermStationsSetMode,
		PermStationsUpdateTariff,
		PermSessionsCreate,
		PermSessionsRead,
		PermSessionsStopOwn,
		PermSessionsForceStop,
		PermErrorsRead,
		PermErrorsUpdate,
		PermStatsRead,
		PermProfileRead,
		PermProfileUpdate,
		PermUsersManage,
	}
	for _, p := range all {
		assert.True(t, Allowed(models.RoleAdmin, p), string(p))
	}
}

func TestUnknownRoleHasNoGrants(t *testing.T) {
	assert.False(t, Allowed(models.Role("SUPERUSER"), PermStationsRead))
	assert.False(t, Allowed(models.Role(""), PermProfileRead))
}

func TestCanForceStop(t *testing.T) {
	assert.False(t, CanForceStop(models.RoleUser))
	assert.True(t, CanForceStop(models.RoleTechSupport))
	assert.True(t, CanForceStop(models.RoleAdmin))
}
