package models

import (
	"slices"
	"time"
)

// Role is a member's access level inside one organization.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// Member is an entry of an organization's member list, keyed by email.
type Member struct {
	Name  string `json:"name" bson:"name"`
	Email string `json:"email" bson:"email"`
	Role  Role   `json:"access_level" bson:"access_level"`
}

// Organization is a tenant with an embedded, insertion-ordered member list.
// Version increases on every stored update and guards read-check-write cycles.
type Organization struct {
	ID          string    `json:"id" bson:"_id"`
	Name        string    `json:"name" bson:"name"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	CreatedBy   string    `json:"created_by" bson:"created_by"`
	Members     []Member  `json:"organization_members" bson:"organization_members"`
	Version     int64     `json:"-" bson:"version"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updated_at"`
}

// OrganizationPatch carries the fields of a partial update. Nil fields are left untouched.
type OrganizationPatch struct {
	Name        *string
	Description *string
}

// OrganizationFilter selects organizations by member email and an optional name substring.
type OrganizationFilter struct {
	MemberEmail string
	Search      string
}

// Member returns the member with the given email and its position.
func (o *Organization) Member(email string) (Member, int, bool) {
	for i, m := range o.Members {
		if m.Email == email {
			return m, i, true
		}
	}
	return Member{}, -1, false
}

// AdminCount returns the number of members holding the admin role.
func (o *Organization) AdminCount() int {
	n := 0
	for _, m := range o.Members {
		if m.Role == RoleAdmin {
			n++
		}
	}
	return n
}

// AddMember appends m. The email must not already be present.
func (o *Organization) AddMember(m Member) error {
	if _, _, ok := o.Member(m.Email); ok {
		return ErrMemberExists
	}
	o.Members = append(o.Members, m)
	return nil
}

// RemoveMember drops the member with the given email.
// The only admin of an organization cannot be removed.
func (o *Organization) RemoveMember(email string) (Member, error) {
	m, i, ok := o.Member(email)
	if !ok {
		return Member{}, ErrMemberNotFound
	}
	if m.Role == RoleAdmin && o.AdminCount() == 1 {
		return Member{}, ErrLastAdmin
	}
	o.Members = slices.Delete(o.Members, i, i+1)
	return m, nil
}

// SetRole changes the role of the member with the given email.
// The only admin of an organization cannot be demoted.
func (o *Organization) SetRole(email string, role Role) (Member, error) {
	m, i, ok := o.Member(email)
	if !ok {
		return Member{}, ErrMemberNotFound
	}
	if m.Role == RoleAdmin && role != RoleAdmin && o.AdminCount() == 1 {
		return Member{}, ErrLastAdmin
	}
	o.Members[i].Role = role
	return o.Members[i], nil
}

// Clone returns a deep copy of o.
func (o *Organization) Clone() *Organization {
	c := *o
	c.Members = slices.Clone(o.Members)
	return &c
}
