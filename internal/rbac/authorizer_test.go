package rbac

import (
	"errors"
	"testing"

	"github.com/Spok95/school-backend/internal/apperr"
	"github.com/Spok95/school-backend/internal/models"
)

func TestCanAccessResource(t *testing.T) {
	a := NewAuthorizer(NewRegistry())
	cases := []struct {
		name       string
		role       models.Role
		caller     int64
		owner      int64
		perm       string
		allowOwner bool
		want       bool
	}{
		{"owner fallback", models.Student, 7, 7, "unknown:perm", true, true},
		{"owner fallback disabled", models.Student, 7, 8, "unknown:perm", false, false},
		{"owner but disabled", models.Student, 7, 7, "unknown:perm", false, false},
		{"not owner", models.Student, 7, 8, "unknown:perm", true, false},
		{"by permission", models.Teacher, 1, 2, "assessment:update", false, true},
		{"admin", models.Admin, 1, 2, "whatever:perm", false, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := a.CanAccessResource(c.role, c.caller, c.owner, c.perm, c.allowOwner); got != c.want {
				t.Fatalf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestRoleHierarchyAllows(t *testing.T) {
	cases := []struct {
		acting, target models.Role
		want           bool
	}{
		{models.Admin, models.Admin, true},
		{models.Admin, models.Student, true},
		{models.Teacher, models.Student, true},
		{models.Teacher, models.Teacher, true},
		{models.Teacher, models.Admin, false},
		{models.Student, models.Teacher, false},
		{models.Role("guest"), models.Student, false},
	}
	for _, c := range cases {
		if got := RoleHierarchyAllows(c.acting, c.target); got != c.want {
			t.Fatalf("%s -> %s: got %v", c.acting, c.target, got)
		}
	}
}

func TestCanModify(t *testing.T) {
	a := NewAuthorizer(NewRegistry())
	if !a.CanModify(5, models.Teacher, 5) {
		t.Fatal("creator can modify")
	}
	if a.CanModify(5, models.Teacher, 6) {
		t.Fatal("other teacher cannot modify")
	}
	if !a.CanModify(1, models.Admin, 6) {
		t.Fatal("admin can modify")
	}
}

func TestRequire(t *testing.T) {
	a := NewAuthorizer(NewRegistry())
	if err := a.Require(models.Student, "assessment:create"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("err = %v", err)
	}
	if err := a.Require(models.Teacher, "assessment:create"); err != nil {
		t.Fatalf("err = %v", err)
	}
}
