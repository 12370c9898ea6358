package organizations

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orgkeep/backend/internal/apperr"
	"github.com/orgkeep/backend/internal/models"
	"github.com/orgkeep/backend/internal/obs"
	"github.com/orgkeep/backend/pkg/retry"
)

// Pagination defaults.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// maxAttempts bounds the read-check-write cycles of one mutation under contention.
const maxAttempts = 3

// UserStore is the part of the credential store used for membership links.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	AddOrganization(ctx context.Context, userID, orgID string) error
	RemoveOrganization(ctx context.Context, userID, orgID string) error
	RemoveOrganizationFromAll(ctx context.Context, orgID string) (int64, error)
}

// Store persists organizations.
type Store interface {
	Create(ctx context.Context, org *models.Organization) error
	GetByID(ctx context.Context, id string) (*models.Organization, error)
	List(ctx context.Context, filter models.OrganizationFilter, skip, limit int) ([]models.Organization, error)
	Count(ctx context.Context, filter models.OrganizationFilter) (int, error)
	// Update stores org if its stored version still equals org.Version and then bumps
	// org.Version. A lost race yields models.ErrVersionConflict.
	Update(ctx context.Context, org *models.Organization) error
	Delete(ctx context.Context, id string) error
}

// FailureReporter hands partially applied operations to reconciliation.
type FailureReporter interface {
	ReportPartialFailure(ctx context.Context, pf *apperr.PartialFailure) error
}

// Service enforces organization membership and role rules.
type Service struct {
	orgs     Store
	users    UserStore
	policy   *Policy
	reporter FailureReporter
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates the access control service. reporter may be nil.
func NewService(orgs Store, users UserStore, policy *Policy, reporter FailureReporter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		orgs:     orgs,
		users:    users,
		policy:   policy,
		reporter: reporter,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var (
	errOrgNotFound    = apperr.New(apperr.KindNotFound, "organization not found")
	errMemberNotFound = apperr.New(apperr.KindNotFound, "member not found")
	errAdminRequired  = apperr.New(apperr.KindForbidden, "admin role required")
	errLastAdmin      = apperr.New(apperr.KindBadRequest, "organization must keep at least one admin")
)

// Create makes a new organization with the acting user as its only admin and links it to the user.
// On a PartialFailure the created organization is returned alongside the error.
func (s *Service) Create(ctx context.Context, userID, name, description string) (org *models.Organization, err error) {
	defer func() { obs.OrganizationEvent("create", err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.New(apperr.KindBadRequest, "name is required")
	}
	user, err := s.actor(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	org = &models.Organization{
		ID:          uuid.New().String(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedBy:   user.ID,
		Members:     []models.Member{{Name: user.Name, Email: user.Email, Role: models.RoleAdmin}},
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err = s.orgs.Create(ctx, org); err != nil {
		return nil, apperr.Dependency(err)
	}
	if linkErr := s.users.AddOrganization(ctx, user.ID, org.ID); linkErr != nil {
		return org, s.partial(ctx, &apperr.PartialFailure{
			Step: apperr.StepLinkUser, OrganizationID: org.ID, UserID: user.ID, Email: user.Email, Err: linkErr,
		})
	}
	s.logger.Info("organization created", zap.String("org_id", org.ID), zap.String("user_id", user.ID))
	return org, nil
}

// List returns the organizations the acting user is a member of, optionally filtered by a
// case-insensitive name substring. Zero page or limit take the defaults.
func (s *Service) List(ctx context.Context, userID string, page, limit int, search string) (models.Page[models.Organization], error) {
	page, limit, err := normalizePage(page, limit)
	if err != nil {
		return models.Page[models.Organization]{}, err
	}
	user, err := s.actor(ctx, userID)
	if err != nil {
		return models.Page[models.Organization]{}, err
	}

	filter := models.OrganizationFilter{MemberEmail: user.Email, Search: strings.TrimSpace(search)}
	total, err := retry.Read(ctx, func() (int, error) {
		return s.orgs.Count(ctx, filter)
	})
	if err != nil {
		return models.Page[models.Organization]{}, apperr.Dependency(err)
	}
	items, err := retry.Read(ctx, func() ([]models.Organization, error) {
		return s.orgs.List(ctx, filter, (page-1)*limit, limit)
	})
	if err != nil {
		return models.Page[models.Organization]{}, apperr.Dependency(err)
	}
	return models.NewPage(items, page, limit, total), nil
}

// Get returns an organization the acting user is a member of.
func (s *Service) Get(ctx context.Context, orgID, userID string) (*models.Organization, error) {
	user, err := s.actor(ctx, userID)
	if err != nil {
		return nil, err
	}
	org, err := s.load(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(org, user.Email, ActionRead); err != nil {
		return nil, err
	}
	return org, nil
}

// Update applies a partial patch of name and description. Admin only.
func (s *Service) Update(ctx context.Context, orgID, userID string, patch models.OrganizationPatch) (org *models.Organization, err error) {
	defer func() { obs.OrganizationEvent("update", err) }()

	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, apperr.New(apperr.KindBadRequest, "name cannot be empty")
	}
	user, err := s.actor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, orgID, user, ActionUpdate, func(org *models.Organization, _ models.Member) error {
		if patch.Name != nil {
			org.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Description != nil {
			org.Description = strings.TrimSpace(*patch.Description)
		}
		return nil
	})
}

// Delete removes an organization and retracts it from every member's user record. Admin only.
func (s *Service) Delete(ctx context.Context, orgID, userID string) (err error) {
	defer func() { obs.OrganizationEvent("delete", err) }()

	user, err := s.actor(ctx, userID)
	if err != nil {
		return err
	}
	org, err := s.load(ctx, orgID)
	if err != nil {
		return err
	}
	if _, err = s.authorize(org, user.Email, ActionDelete); err != nil {
		return err
	}
	if err = s.orgs.Delete(ctx, org.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return errOrgNotFound
		}
		return apperr.Dependency(err)
	}
	n, unlinkErr := s.users.RemoveOrganizationFromAll(ctx, org.ID)
	if unlinkErr != nil {
		return s.partial(ctx, &apperr.PartialFailure{
			Step: apperr.StepUnlinkMembers, OrganizationID: org.ID, Err: unlinkErr,
		})
	}
	s.logger.Info("organization deleted",
		zap.String("org_id", org.ID), zap.String("user_id", user.ID), zap.Int64("unlinked_users", n))
	return nil
}

// Invite adds the account with the given email as a member and links the organization to it.
// Admin only.
func (s *Service) Invite(ctx context.Context, orgID, inviterID, email string) (member models.Member, err error) {
	defer func() { obs.OrganizationEvent("invite", err) }()

	email = strings.TrimSpace(email)
	if email == "" {
		return models.Member{}, apperr.New(apperr.KindBadRequest, "email is required")
	}
	inviter, err := s.actor(ctx, inviterID)
	if err != nil {
		return models.Member{}, err
	}

	var target *models.User
	_, err = s.mutate(ctx, orgID, inviter, ActionInvite, func(org *models.Organization, _ models.Member) error {
		if target == nil {
			u, err := s.findUserByEmail(ctx, email)
			if err != nil {
				return err
			}
			target = u
		}
		member = models.Member{Name: target.Name, Email: target.Email, Role: models.RoleMember}
		if err := org.AddMember(member); err != nil {
			return apperr.New(apperr.KindConflict, "user is already a member")
		}
		return nil
	})
	if err != nil {
		return models.Member{}, err
	}
	if linkErr := s.users.AddOrganization(ctx, target.ID, orgID); linkErr != nil {
		return member, s.partial(ctx, &apperr.PartialFailure{
			Step: apperr.StepLinkUser, OrganizationID: orgID, UserID: target.ID, Email: target.Email, Err: linkErr,
		})
	}
	return member, nil
}

// ListMembers pages through the member list in insertion order. Any member may call it.
func (s *Service) ListMembers(ctx context.Context, orgID, userID string, page, limit int) (models.Page[models.Member], error) {
	page, limit, err := normalizePage(page, limit)
	if err != nil {
		return models.Page[models.Member]{}, err
	}
	user, err := s.actor(ctx, userID)
	if err != nil {
		return models.Page[models.Member]{}, err
	}
	org, err := s.load(ctx, orgID)
	if err != nil {
		return models.Page[models.Member]{}, err
	}
	if _, err := s.authorize(org, user.Email, ActionListMembers); err != nil {
		return models.Page[models.Member]{}, err
	}

	total := len(org.Members)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)
	return models.NewPage(org.Members[start:end], page, limit, total), nil
}

// RemoveMember drops a member and retracts the organization from the member's user record.
// Admin only. The last admin cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, orgID, adminID, email string) (org *models.Organization, err error) {
	defer func() { obs.OrganizationEvent("remove_member", err) }()

	admin, err := s.actor(ctx, adminID)
	if err != nil {
		return nil, err
	}
	org, err = s.mutate(ctx, orgID, admin, ActionRemoveMember, func(org *models.Organization, _ models.Member) error {
		_, err := org.RemoveMember(email)
		return memberError(err)
	})
	if err != nil {
		return nil, err
	}

	target, err := s.findUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return org, nil
		}
		return org, s.partial(ctx, &apperr.PartialFailure{
			Step: apperr.StepUnlinkUser, OrganizationID: org.ID, Email: email, Err: err,
		})
	}
	if unlinkErr := s.users.RemoveOrganization(ctx, target.ID, org.ID); unlinkErr != nil && !errors.Is(unlinkErr, models.ErrNotFound) {
		return org, s.partial(ctx, &apperr.PartialFailure{
			Step: apperr.StepUnlinkUser, OrganizationID: org.ID, UserID: target.ID, Email: email, Err: unlinkErr,
		})
	}
	return org, nil
}

// ChangeRole sets the role of another member. Admin only. Admins cannot change their own role
// and the last admin cannot be demoted.
func (s *Service) ChangeRole(ctx context.Context, orgID, adminID, email string, role models.Role) (member models.Member, err error) {
	defer func() { obs.OrganizationEvent("change_role", err) }()

	if !role.Valid() {
		return models.Member{}, apperr.New(apperr.KindBadRequest, fmt.Sprintf("role must be %q or %q", models.RoleAdmin, models.RoleMember))
	}
	admin, err := s.actor(ctx, adminID)
	if err != nil {
		return models.Member{}, err
	}
	_, err = s.mutate(ctx, orgID, admin, ActionChangeRole, func(org *models.Organization, self models.Member) error {
		if self.Email == email {
			return apperr.New(apperr.KindBadRequest, "you cannot change your own role")
		}
		m, err := org.SetRole(email, role)
		if err != nil {
			return memberError(err)
		}
		member = m
		return nil
	})
	if err != nil {
		return models.Member{}, err
	}
	return member, nil
}

// mutate runs a read-check-write cycle: load, authorize, apply fn, conditional update.
// A lost race re-runs the cycle on fresh state.
func (s *Service) mutate(ctx context.Context, orgID string, actor *models.User, action Action, fn func(*models.Organization, models.Member) error) (*models.Organization, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		org, err := s.load(ctx, orgID)
		if err != nil {
			return nil, err
		}
		self, err := s.authorize(org, actor.Email, action)
		if err != nil {
			return nil, err
		}
		if err := fn(org, self); err != nil {
			return nil, err
		}
		org.UpdatedAt = s.now()
		err = s.orgs.Update(ctx, org)
		switch {
		case err == nil:
			return org, nil
		case errors.Is(err, models.ErrVersionConflict):
			s.logger.Debug("organization changed concurrently",
				zap.String("org_id", orgID), zap.String("action", string(action)), zap.Int("attempt", attempt))
			continue
		case errors.Is(err, models.ErrNotFound):
			return nil, errOrgNotFound
		default:
			return nil, apperr.Dependency(err)
		}
	}
	return nil, apperr.New(apperr.KindConflict, "organization was modified concurrently, retry the request")
}

// authorize returns the acting member. Non-members get NotFound so the organization's
// existence stays hidden; members lacking the permission get Forbidden.
func (s *Service) authorize(org *models.Organization, email string, action Action) (models.Member, error) {
	m, _, ok := org.Member(email)
	if !ok {
		return models.Member{}, errOrgNotFound
	}
	allowed, err := s.policy.Allows(m.Role, action)
	if err != nil {
		return models.Member{}, apperr.Wrap(apperr.KindInternal, "permission check failed", err)
	}
	if !allowed {
		return models.Member{}, errAdminRequired
	}
	return m, nil
}

// actor resolves the acting user. A token for a user that no longer exists is Unauthorized.
func (s *Service) actor(ctx context.Context, userID string) (*models.User, error) {
	u, err := retry.Read(ctx, func() (*models.User, error) {
		return s.users.GetByID(ctx, userID)
	}, models.ErrNotFound)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, apperr.New(apperr.KindUnauthorized, "user no longer exists")
		}
		return nil, apperr.Dependency(err)
	}
	return u, nil
}

func (s *Service) load(ctx context.Context, orgID string) (*models.Organization, error) {
	org, err := retry.Read(ctx, func() (*models.Organization, error) {
		return s.orgs.GetByID(ctx, orgID)
	}, models.ErrNotFound)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, errOrgNotFound
		}
		return nil, apperr.Dependency(err)
	}
	return org, nil
}

func (s *Service) findUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := retry.Read(ctx, func() (*models.User, error) {
		return s.users.GetByEmail(ctx, email)
	}, models.ErrNotFound)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "no account exists for that email")
		}
		return nil, apperr.Dependency(err)
	}
	return u, nil
}

func (s *Service) partial(ctx context.Context, pf *apperr.PartialFailure) error {
	obs.PartialFailure(pf.Step)
	s.logger.Error("operation partially applied",
		zap.String("step", string(pf.Step)),
		zap.String("org_id", pf.OrganizationID),
		zap.String("user_id", pf.UserID),
		zap.Error(pf.Err),
	)
	if s.reporter != nil {
		if err := s.reporter.ReportPartialFailure(ctx, pf); err != nil {
			s.logger.Error("report partial failure", zap.String("step", string(pf.Step)), zap.Error(err))
		}
	}
	return pf
}

func memberError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrMemberNotFound):
		return errMemberNotFound
	case errors.Is(err, models.ErrLastAdmin):
		return errLastAdmin
	case errors.Is(err, models.ErrMemberExists):
		return apperr.New(apperr.KindConflict, "user is already a member")
	default:
		return err
	}
}

func normalizePage(page, limit int) (int, int, error) {
	if page < 0 || limit < 0 {
		return 0, 0, apperr.New(apperr.KindBadRequest, "page and limit must be positive integers")
	}
	if page == 0 {
		page = DefaultPage
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		return 0, 0, apperr.New(apperr.KindBadRequest, fmt.Sprintf("limit must not exceed %d", MaxLimit))
	}
	// keeps (page-1)*limit from overflowing
	if page > math.MaxInt/limit {
		return 0, 0, apperr.New(apperr.KindBadRequest, "page is out of range")
	}
	return page, limit, nil
}
