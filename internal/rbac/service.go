package rbac

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrNotFound indicates that the requested role does not exist.
var ErrNotFound = errors.New("rbac: not found")

// Service resolves effective permissions from the role policy.
type Service struct {
	policy Policy
}

// NewService constructs a Service over policy. A nil policy uses DefaultPolicy.
func NewService(policy Policy) *Service {
	if policy == nil {
		policy = DefaultPolicy()
	}
	normalized := make(Policy, len(policy))
	for role, perms := range policy {
		normalized[strings.ToLower(role)] = normalizePermissions(perms)
	}
	return &Service{policy: normalized}
}

// EffectivePermissions returns the permissions granted to role.
func (s *Service) EffectivePermissions(ctx context.Context, role string) ([]string, error) {
	perms, ok := s.policy[strings.ToLower(strings.TrimSpace(role))]
	if !ok {
		return nil, ErrNotFound
	}
	return perms, nil
}

// RoleGrant lists the permissions for a single role.
type RoleGrant struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// ListGrants returns every role with its permissions ordered by role name.
func (s *Service) ListGrants(ctx context.Context) []RoleGrant {
	grants := make([]RoleGrant, 0, len(s.policy))
	for role, perms := range s.policy {
		grants = append(grants, RoleGrant{Role: role, Permissions: perms})
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].Role < grants[j].Role })
	return grants
}
