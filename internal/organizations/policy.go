package organizations

import (
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/orgkeep/backend/internal/models"
)

//go:embed model.conf
var policyModel string

// Action is an operation on an existing organization that needs a role check.
type Action string

const (
	ActionRead         Action = "read"
	ActionUpdate       Action = "update"
	ActionDelete       Action = "delete"
	ActionInvite       Action = "invite"
	ActionListMembers  Action = "list_members"
	ActionRemoveMember Action = "remove_member"
	ActionChangeRole   Action = "change_role"
)

var rolePermissions = map[models.Role][]Action{
	models.RoleAdmin: {
		ActionRead, ActionUpdate, ActionDelete, ActionInvite,
		ActionListMembers, ActionRemoveMember, ActionChangeRole,
	},
	models.RoleMember: {ActionRead, ActionListMembers},
}

// Policy decides which member roles may perform which actions.
type Policy struct {
	enforcer *casbin.SyncedEnforcer
}

// NewPolicy builds the role permission table.
func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	var rules [][]string
	for role, actions := range rolePermissions {
		for _, a := range actions {
			rules = append(rules, []string{string(role), string(a)})
		}
	}
	if _, err := enforcer.AddPolicies(rules); err != nil {
		return nil, fmt.Errorf("load casbin policies: %w", err)
	}
	return &Policy{enforcer: enforcer}, nil
}

// Allows reports whether role may perform action.
func (p *Policy) Allows(role models.Role, action Action) (bool, error) {
	return p.enforcer.Enforce(string(role), string(action))
}
