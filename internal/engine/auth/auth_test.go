package auth

import (
	"context"
	"errors"
	"testing"
)

func TestPolicyRequire(t *testing.T) {
	p := DefaultPolicy([]string{"admin", "lead"})

	if err := p.Require(Actor{ID: "a", Roles: []string{"lead"}}, PermTrackingConfigure); err != nil {
		t.Fatalf("lead should configure tracking: %v", err)
	}
	err := p.Require(Actor{ID: "b", Roles: []string{"member"}}, PermTrackingConfigure)
	var fe ForbiddenError
	if !errors.As(err, &fe) || fe.Permission != PermTrackingConfigure {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := p.Require(Actor{ID: "c"}, PermCategoriesManage); err == nil {
		t.Fatalf("actor without roles must be forbidden")
	}
}

func TestDefaultPolicyFallsBackToAdmin(t *testing.T) {
	p := DefaultPolicy(nil)
	if !p.Allows(Actor{Roles: []string{"admin"}}, PermCategoriesManage) {
		t.Fatalf("admin should manage categories")
	}
	perms := p.Permissions([]string{"admin", "admin"})
	if len(perms) != len(AllPermissions) {
		t.Fatalf("expected %d permissions, got %v", len(AllPermissions), perms)
	}
}

func TestServiceWithoutDBUsesTokenRoles(t *testing.T) {
	s := Service{Policy: DefaultPolicy(nil)}
	if err := s.Require(context.Background(), nil, Actor{ID: "u", Roles: []string{"admin"}}, PermSummariesRefresh); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Require(context.Background(), nil, Actor{ID: "u"}, PermSummariesRefresh); err == nil {
		t.Fatalf("expected forbidden")
	}
}
