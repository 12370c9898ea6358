package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orgkeep/backend/internal/apperr"
	"github.com/orgkeep/backend/internal/models"
	"github.com/orgkeep/backend/internal/obs"
	"github.com/orgkeep/backend/pkg/retry"
)

// Default token lifetimes.
const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// UserStore is the part of the credential store used by the session manager.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// PasswordHasher hashes and verifies raw passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(plain, hashed string) bool
}

// TokenPair is an access token and a refresh token issued together.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Identity is the caller resolved from an access token.
type Identity struct {
	UserID string
	Email  string
}

// Options configures a Service. Zero values take the defaults.
type Options struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service issues, rotates and revokes token pairs.
type Service struct {
	users      UserStore
	tokens     TokenCache
	jwt        *JWTService
	hasher     PasswordHasher
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *zap.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewService creates the session manager.
func NewService(users UserStore, tokens TokenCache, jwt *JWTService, hasher PasswordHasher, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = DefaultAccessTTL
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = DefaultRefreshTTL
	}
	return &Service{
		users:      users,
		tokens:     tokens,
		jwt:        jwt,
		hasher:     hasher,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		logger:     logger,
	}
}

var errBadCredentials = apperr.New(apperr.KindInvalidCredentials, "invalid email or password")

func invalidRefreshToken() error {
	return apperr.New(apperr.KindInvalidToken, "invalid or expired refresh token")
}

// Register creates a user and returns its id.
func (s *Service) Register(ctx context.Context, name, email, password string) (id string, err error) {
	defer func() { obs.SessionEvent("register", err) }()

	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" || password == "" {
		return "", apperr.New(apperr.KindBadRequest, "name, email and password are required")
	}

	_, err = s.findByEmail(ctx, email)
	switch {
	case err == nil:
		return "", apperr.New(apperr.KindConflict, "email already registered")
	case !errors.Is(err, models.ErrNotFound):
		return "", apperr.Dependency(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", apperr.Wrap(apperr.KindBadRequest, "password cannot be hashed", err)
	}

	now := time.Now().UTC()
	u := &models.User{
		ID:            uuid.New().String(),
		Name:          name,
		Email:         email,
		PasswordHash:  hash,
		Organizations: []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err = s.users.Create(ctx, u); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			return "", apperr.New(apperr.KindConflict, "email already registered")
		}
		return "", apperr.Dependency(err)
	}
	s.logger.Info("user registered", zap.String("user_id", u.ID))
	return u.ID, nil
}

// Authenticate verifies credentials and issues a token pair.
// An unknown email and a wrong password are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (pair *TokenPair, err error) {
	defer func() { obs.SessionEvent("authenticate", err) }()

	u, err := s.findByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return nil, apperr.Dependency(err)
		}
		s.hasher.Verify(password, s.dummy())
		return nil, errBadCredentials
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		return nil, errBadCredentials
	}
	return s.issue(ctx, u.ID, u.Email)
}

// Rotate exchanges an active refresh token for a new pair. The old token is consumed:
// of several concurrent rotations of one token at most one succeeds.
func (s *Service) Rotate(ctx context.Context, refreshToken string) (pair *TokenPair, err error) {
	defer func() { obs.SessionEvent("rotate", err) }()

	claims, err := s.jwt.Validate(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, invalidRefreshToken()
	}
	if err = s.checkNotRevoked(ctx, refreshToken); err != nil {
		return nil, err
	}
	owner, ok, err := s.cacheGet(ctx, activeKey(refreshToken))
	if err != nil {
		return nil, apperr.Dependency(err)
	}
	if !ok || owner != claims.UserID() {
		return nil, invalidRefreshToken()
	}

	removed, err := s.tokens.Delete(ctx, activeKey(refreshToken))
	if err != nil {
		return nil, apperr.Dependency(err)
	}
	if !removed {
		s.logger.Warn("refresh token consumed concurrently",
			zap.String("user_id", claims.UserID()), zap.String("jti", claims.ID))
		return nil, invalidRefreshToken()
	}
	return s.issue(ctx, claims.UserID(), claims.Email)
}

// Revoke retires an active refresh token and blocks it until its natural expiry.
// Tokens already consumed by Rotate, revoked, or never issued are rejected.
func (s *Service) Revoke(ctx context.Context, refreshToken string) (err error) {
	defer func() { obs.SessionEvent("revoke", err) }()

	claims, err := s.jwt.Validate(refreshToken, TokenTypeRefresh)
	if err != nil {
		return invalidRefreshToken()
	}
	if err = s.checkNotRevoked(ctx, refreshToken); err != nil {
		return err
	}
	removed, err := s.tokens.Delete(ctx, activeKey(refreshToken))
	if err != nil {
		return apperr.Dependency(err)
	}
	if !removed {
		return invalidRefreshToken()
	}
	if err = s.tokens.Set(ctx, revokedKey(refreshToken), revokedMarker, s.refreshTTL); err != nil {
		return apperr.Dependency(err)
	}
	s.logger.Info("refresh token revoked", zap.String("user_id", claims.UserID()), zap.String("jti", claims.ID))
	return nil
}

// CurrentUser verifies an access token without consulting the token cache.
func (s *Service) CurrentUser(accessToken string) (Identity, error) {
	claims, err := s.jwt.Validate(accessToken, TokenTypeAccess)
	if err != nil {
		return Identity{}, apperr.New(apperr.KindUnauthorized, "invalid or expired access token")
	}
	return Identity{UserID: claims.UserID(), Email: claims.Email}, nil
}

// Profile returns the public view of a user.
func (s *Service) Profile(ctx context.Context, userID string) (models.UserPublic, error) {
	u, err := retry.Read(ctx, func() (*models.User, error) {
		return s.users.GetByID(ctx, userID)
	}, models.ErrNotFound)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.UserPublic{}, apperr.New(apperr.KindNotFound, "user not found")
		}
		return models.UserPublic{}, apperr.Dependency(err)
	}
	return u.ToPublic(), nil
}

func (s *Service) issue(ctx context.Context, userID, email string) (*TokenPair, error) {
	access, accessExp, err := s.jwt.Sign(userID, email, TokenTypeAccess, s.accessTTL)
	if err != nil {
		return nil, apperr.Dependency(err)
	}
	refresh, refreshExp, err := s.jwt.Sign(userID, email, TokenTypeRefresh, s.refreshTTL)
	if err != nil {
		return nil, apperr.Dependency(err)
	}
	if err := s.tokens.Set(ctx, activeKey(refresh), userID, s.refreshTTL); err != nil {
		return nil, apperr.Dependency(err)
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) checkNotRevoked(ctx context.Context, token string) error {
	_, revoked, err := s.cacheGet(ctx, revokedKey(token))
	if err != nil {
		return apperr.Dependency(err)
	}
	if revoked {
		return invalidRefreshToken()
	}
	return nil
}

func (s *Service) findByEmail(ctx context.Context, email string) (*models.User, error) {
	return retry.Read(ctx, func() (*models.User, error) {
		return s.users.GetByEmail(ctx, email)
	}, models.ErrNotFound)
}

type cacheValue struct {
	value string
	ok    bool
}

func (s *Service) cacheGet(ctx context.Context, key string) (string, bool, error) {
	v, err := retry.Read(ctx, func() (cacheValue, error) {
		value, ok, err := s.tokens.Get(ctx, key)
		return cacheValue{value: value, ok: ok}, err
	})
	return v.value, v.ok, err
}

// dummy returns a digest used to spend the same hashing work on unknown emails.
func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(uuid.New().String())
		if err != nil {
			s.logger.Warn("dummy password hash", zap.Error(err))
		}
		s.dummyHash = h
	})
	return s.dummyHash
}
