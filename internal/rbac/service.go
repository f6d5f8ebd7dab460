package rbac

import (
	"context"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Store supplies stored grants that override the default policy for a role.
type Store interface {
	PermissionsForRole(ctx context.Context, role shared.Role) ([]string, error)
}

// Service resolves permissions for actors.
type Service struct {
	store  Store
	policy Policy
}

// NewService constructs a Service. A nil store means only the default policy applies.
func NewService(store Store, policy Policy) *Service {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Service{store: store, policy: policy}
}

// EffectivePermissions returns the permissions granted to a role. Stored grants
// replace the default policy when any exist for the role.
func (s *Service) EffectivePermissions(ctx context.Context, role shared.Role) ([]string, error) {
	if s.store != nil {
		stored, err := s.store.PermissionsForRole(ctx, role)
		if err != nil {
			return nil, err
		}
		if len(stored) > 0 {
			return stored, nil
		}
	}
	perms := append([]string{}, s.policy[role]...)
	sort.Strings(perms)
	return perms, nil
}

// Authorize returns ErrForbidden unless the actor holds at least one of perms.
func (s *Service) Authorize(ctx context.Context, actor shared.Actor, perms ...string) error {
	if !actor.Valid() {
		return ErrForbidden
	}
	if actor.Role == shared.RoleSuperAdmin {
		return nil
	}
	granted, err := s.EffectivePermissions(ctx, actor.Role)
	if err != nil {
		return err
	}
	if hasAnyPermission(granted, normalizePermissions(perms)) {
		return nil
	}
	return ErrForbidden
}

// ListPermissions returns every permission known to the system.
func (s *Service) ListPermissions() []string {
	perms := shared.AllScopes()
	sort.Strings(perms)
	return perms
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for p := range unique {
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
