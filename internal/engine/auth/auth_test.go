package auth

import (
	"errors"
	"reflect"
	"testing"
)

func TestExpandMergesRolesAndGrants(t *testing.T) {
	got := Expand([]string{RoleViewer, "ghost"}, []string{PlanGenerate, ScheduleRead})
	want := []string{PlanGenerate, ScheduleRead}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestRequire(t *testing.T) {
	perms := Expand([]string{RolePlanner}, nil)
	if err := Require(perms, ScheduleWrite); err != nil {
		t.Fatalf("planner should write: %v", err)
	}
	err := Require(perms, CatalogImport)
	var forbidden ForbiddenError
	if !errors.As(err, &forbidden) || forbidden.Permission != CatalogImport {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if !ValidRole(RoleAdmin) || ValidRole("root") {
		t.Fatalf("role validation wrong")
	}
}
