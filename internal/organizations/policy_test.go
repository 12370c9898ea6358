package organizations

import (
	"context"
	"testing"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgkeep/backend/internal/apperr"

	"github.com/orgkeep/backend/internal/models"
)

func TestPolicy(t *testing.T) {
	p, err := NewPolicy()
	require.NoError(t, err)

	tests := []struct {
		role   models.Role
		action Action
		want   bool
	}{
		{models.RoleAdmin, ActionDelete, true},
		{models.RoleAdmin, ActionChangeRole, true},
		{models.RoleMember, ActionRead, true},
		{models.RoleMember, ActionListMembers, true},
		{models.RoleMember, ActionUpdate, false},
		{models.RoleMember, ActionInvite, false},
		{models.RoleMember, ActionRemoveMember, false},
		{models.Role("owner"), ActionRead, false},
	}
	for _, tt := range tests {
		got, err := p.Allows(tt.role, tt.action)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %s", tt.role, tt.action)
	}
}

// mismatchedPolicy expects three request values, so every two-value check fails.
func mismatchedPolicy(t *testing.T) *Policy {
	t.Helper()
	m, err := model.NewModelFromString(`
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`)
	require.NoError(t, err)
	enforcer, err := casbin.NewSyncedEnforcer(m)
	require.NoError(t, err)
	return &Policy{enforcer: enforcer}
}

func TestPolicyErrorIsInternal(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "Acme")
	f.svc.policy = mismatchedPolicy(t)

	_, err := f.svc.Get(context.Background(), org.ID, f.alice.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInternal)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}
