package auth

import (
	"fmt"
	"sort"
)

// Permissions checked by the API.
const (
	ScheduleRead  = "schedule.read"
	ScheduleWrite = "schedule.write"
	PlanGenerate  = "plan.generate"
	CatalogImport = "catalog.import"
)

// Built-in roles. API keys carry one role; tokens may carry roles, permissions or both.
const (
	RoleViewer  = "viewer"
	RolePlanner = "planner"
	RoleAdmin   = "admin"
)

var rolePermissions = map[string][]string{
	RoleViewer:  {ScheduleRead},
	RolePlanner: {ScheduleRead, ScheduleWrite, PlanGenerate},
	RoleAdmin:   {ScheduleRead, ScheduleWrite, PlanGenerate, CatalogImport},
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// Roles lists the built-in role names.
func Roles() []string {
	roles := make([]string, 0, len(rolePermissions))
	for r := range rolePermissions {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

// Expand resolves roles into permissions and merges them with explicit grants.
// Unknown roles grant nothing.
func Expand(roles, explicit []string) []string {
	seen := map[string]struct{}{}
	var perms []string
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		perms = append(perms, p)
	}
	for _, r := range roles {
		for _, p := range rolePermissions[r] {
			add(p)
		}
	}
	for _, p := range explicit {
		add(p)
	}
	sort.Strings(perms)
	return perms
}

// Require returns ForbiddenError unless perm is among perms.
func Require(perms []string, perm string) error {
	for _, p := range perms {
		if p == perm {
			return nil
		}
	}
	return ForbiddenError{Permission: perm}
}
