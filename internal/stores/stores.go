// Package stores opens the credential and organization stores for the configured driver.
package stores

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/orgkeep/backend/config"
	"github.com/orgkeep/backend/internal/auth"
	"github.com/orgkeep/backend/internal/models"
	"github.com/orgkeep/backend/internal/organizations"
	"github.com/orgkeep/backend/pkg/database"
	"github.com/orgkeep/backend/pkg/mongodb"
)

// UserStore is the full credential store used by both services and the worker.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	AddOrganization(ctx context.Context, userID, orgID string) error
	RemoveOrganization(ctx context.Context, userID, orgID string) error
	RemoveOrganizationFromAll(ctx context.Context, orgID string) (int64, error)
}

// Stores bundles the opened stores and the connection that backs them.
type Stores struct {
	Users         UserStore
	Organizations organizations.Store
	close         func(context.Context)
}

// Close releases the underlying connection.
func (s *Stores) Close(ctx context.Context) {
	if s.close != nil {
		s.close(ctx)
	}
}

// Open connects to the configured driver. Postgres runs migrations; MongoDB ensures indexes.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &Stores{
			Users:         auth.NewRepository(pool),
			Organizations: organizations.NewRepository(pool),
			close:         func(context.Context) { pool.Close() },
		}, nil

	case config.DriverMongo:
		client, err := mongodb.NewClient(ctx, cfg.Mongo.URI, cfg.Mongo.Database, logger)
		if err != nil {
			return nil, err
		}
		users := auth.NewMongoRepository(client.DB)
		orgs := organizations.NewMongoRepository(client.DB)
		if err := users.EnsureIndexes(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, fmt.Errorf("user indexes: %w", err)
		}
		if err := orgs.EnsureIndexes(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, fmt.Errorf("organization indexes: %w", err)
		}
		return &Stores{
			Users:         users,
			Organizations: orgs,
			close: func(ctx context.Context) {
				if err := client.Close(ctx); err != nil {
					logger.Warn("mongo disconnect", zap.Error(err))
				}
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
