package organizations

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orgkeep/backend/internal/apperr"
	"github.com/orgkeep/backend/internal/models"
)

var errDown = errors.New("connection reset by peer")

type memOrgs struct {
	mu        sync.Mutex
	byID      map[string]*models.Organization
	conflicts int // number of upcoming Update calls forced to lose the race
	failList  error
}

func newMemOrgs() *memOrgs {
	return &memOrgs{byID: make(map[string]*models.Organization)}
}

func (m *memOrgs) Create(_ context.Context, org *models.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[org.ID]; ok {
		return models.ErrDuplicate
	}
	m.byID[org.ID] = org.Clone()
	return nil
}

func (m *memOrgs) GetByID(_ context.Context, id string) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return org.Clone(), nil
}

func (m *memOrgs) matching(filter models.OrganizationFilter) []models.Organization {
	var out []models.Organization
	for _, org := range m.byID {
		if _, _, ok := org.Member(filter.MemberEmail); !ok {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(org.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, *org.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *memOrgs) List(_ context.Context, filter models.OrganizationFilter, skip, limit int) ([]models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList != nil {
		return nil, m.failList
	}
	all := m.matching(filter)
	start := min(skip, len(all))
	end := min(start+limit, len(all))
	return all[start:end], nil
}

func (m *memOrgs) Count(_ context.Context, filter models.OrganizationFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.matching(filter)), nil
}

func (m *memOrgs) Update(_ context.Context, org *models.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byID[org.ID]
	if !ok {
		return models.ErrNotFound
	}
	if m.conflicts > 0 {
		m.conflicts--
		stored.Version++
	}
	if stored.Version != org.Version {
		return models.ErrVersionConflict
	}
	org.Version++
	m.byID[org.ID] = org.Clone()
	return nil
}

func (m *memOrgs) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return models.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

type memUsers struct {
	mu       sync.Mutex
	byID     map[string]*models.User
	failLink error
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[string]*models.User)}
}

func (m *memUsers) add(id, name, email string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &models.User{ID: id, Name: name, Email: email, Organizations: []string{}}
	m.byID[id] = u
	return u
}

func (m *memUsers) orgsOf(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.byID[id].Organizations)
}

func (m *memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *u
	c.Organizations = slices.Clone(u.Organizations)
	return &c, nil
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	var id string
	for _, u := range m.byID {
		if u.Email == email {
			id = u.ID
		}
	}
	m.mu.Unlock()
	if id == "" {
		return nil, models.ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *memUsers) AddOrganization(_ context.Context, userID, orgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLink != nil {
		return m.failLink
	}
	u, ok := m.byID[userID]
	if !ok {
		return models.ErrNotFound
	}
	if !slices.Contains(u.Organizations, orgID) {
		u.Organizations = append(u.Organizations, orgID)
	}
	return nil
}

func (m *memUsers) RemoveOrganization(_ context.Context, userID, orgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLink != nil {
		return m.failLink
	}
	u, ok := m.byID[userID]
	if !ok {
		return models.ErrNotFound
	}
	u.Organizations = slices.DeleteFunc(u.Organizations, func(id string) bool { return id == orgID })
	return nil
}

func (m *memUsers) RemoveOrganizationFromAll(_ context.Context, orgID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLink != nil {
		return 0, m.failLink
	}
	var n int64
	for _, u := range m.byID {
		if slices.Contains(u.Organizations, orgID) {
			u.Organizations = slices.DeleteFunc(u.Organizations, func(id string) bool { return id == orgID })
			n++
		}
	}
	return n, nil
}

type recordingReporter struct {
	mu       sync.Mutex
	failures []*apperr.PartialFailure
}

func (r *recordingReporter) ReportPartialFailure(_ context.Context, pf *apperr.PartialFailure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, pf)
	return nil
}

type fixture struct {
	svc      *Service
	orgs     *memOrgs
	users    *memUsers
	reporter *recordingReporter
	alice    *models.User
	bob      *models.User
	carol    *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	policy, err := NewPolicy()
	require.NoError(t, err)

	f := &fixture{orgs: newMemOrgs(), users: newMemUsers(), reporter: &recordingReporter{}}
	f.alice = f.users.add("u-alice", "Alice", "alice@example.com")
	f.bob = f.users.add("u-bob", "Bob", "bob@example.com")
	f.carol = f.users.add("u-carol", "Carol", "carol@example.com")
	f.svc = NewService(f.orgs, f.users, policy, f.reporter, nil)
	return f
}

// createOrg creates an organization owned by alice with bob invited as a member.
func (f *fixture) createOrg(t *testing.T, name string) *models.Organization {
	t.Helper()
	ctx := context.Background()
	org, err := f.svc.Create(ctx, f.alice.ID, name, "")
	require.NoError(t, err)
	_, err = f.svc.Invite(ctx, org.ID, f.alice.ID, f.bob.Email)
	require.NoError(t, err)
	return org
}
