package auth

import "chargehub/internal/models"

// Permission is a typed capability. Permissions are enumerated here and
// resolved through the grants table; there is no string matching at call
// sites.
type Permission string

const (
	PermStationsRead         Permission = "stations:read"
	PermStationsCreate       Permission = "stations:create"
	PermStationsSetMode      Permission = "stations:set_mode"
	PermStationsUpdateTariff Permission = "stations:update_tariff"
	PermSessionsCreate       Permission = "sessions:create"
	PermSessionsRead         Permission = "sessions:read"
	PermSessionsStopOwn      Permission = "sessions:stop_own"
	PermSessionsForceStop    Permission = "sessions:force_stop"
	PermErrorsRead           Permission = "errors:read"
	PermErrorsUpdate         Permission = "errors:update"
	PermStatsRead            Permission = "stats:read"
	PermProfileRead          Permission = "profile:read"
	PermProfileUpdate        Permission = "profile:update"
	PermUsersManage          Permission = "users:manage"
)

// grant is the capability set of a single role. All replaces the previous
// string-wildcard semantics with an explicit flag.
type grant struct {
	All   bool
	Perms map[Permission]struct{}
}

func permSet(perms ...Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

var grants = map[models.Role]grant{
	models.RoleUser: {
		Perms: permSet(
			PermStationsRead,
			PermSessionsCreate,
			PermSessionsRead,
			PermSessionsStopOwn,
			PermProfileRead,
			PermProfileUpdate,
		),
	},
	models.RoleTechSupport: {
		Perms: permSet(
			PermStationsRead,
			PermStationsSetMode,
			PermSessionsRead,
			PermSessionsForceStop,
			PermErrorsRead,
			PermErrorsUpdate,
			PermStatsRead,
			PermProfileRead,
		),
	},
	models.RoleAdmin: {
		All: true,
		Perms: permSet(
			PermStationsCreate,
			PermStationsUpdateTariff,
			PermUsersManage,
		),
	},
}

// Allowed reports whether the role holds the permission.
func Allowed(role models.Role, perm Permission) bool {
	g, ok := grants[role]
	if !ok {
		return false
	}
	if g.All {
		return true
	}
	_, ok = g.Perms[perm]
	return ok
}

// CanForceStop reports whether the role may stop sessions it does not own.
func CanForceStop(role models.Role) bool {
	return Allowed(role, PermSessionsForceStop)
}
