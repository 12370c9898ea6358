package organizations

import (
	"context"
	"errors"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/orgkeep/backend/internal/models"
)

// OrganizationsCollection is the MongoDB collection holding organization documents.
const OrganizationsCollection = "organizations"

// MongoRepository handles organization persistence in MongoDB. Members are embedded.
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository creates an organizations repository on db.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(OrganizationsCollection)}
}

// EnsureIndexes creates the member email index.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "organization_members.email", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	return err
}

// Create inserts an organization.
func (r *MongoRepository) Create(ctx context.Context, org *models.Organization) error {
	doc := *org
	if doc.Members == nil {
		doc.Members = []models.Member{}
	}
	_, err := r.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return models.ErrDuplicate
	}
	return err
}

// GetByID returns an organization by ID.
func (r *MongoRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	var org models.Organization
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&org)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func mongoFilter(filter models.OrganizationFilter) bson.M {
	f := bson.M{"organization_members.email": filter.MemberEmail}
	if filter.Search != "" {
		f["name"] = primitive.Regex{Pattern: regexp.QuoteMeta(filter.Search), Options: "i"}
	}
	return f
}

// List returns the organizations matching filter, newest first.
func (r *MongoRepository) List(ctx context.Context, filter models.OrganizationFilter, skip, limit int) ([]models.Organization, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, mongoFilter(filter), opts)
	if err != nil {
		return nil, err
	}
	var list []models.Organization
	if err := cur.All(ctx, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Count returns the number of organizations matching filter.
func (r *MongoRepository) Count(ctx context.Context, filter models.OrganizationFilter) (int, error) {
	n, err := r.coll.CountDocuments(ctx, mongoFilter(filter))
	return int(n), err
}

// Update writes org if the stored version still equals org.Version.
func (r *MongoRepository) Update(ctx context.Context, org *models.Organization) error {
	members := org.Members
	if members == nil {
		members = []models.Member{}
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": org.ID, "version": org.Version},
		bson.M{
			"$set": bson.M{
				"name":                 org.Name,
				"description":          org.Description,
				"organization_members": members,
				"updated_at":           org.UpdatedAt,
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		n, err := r.coll.CountDocuments(ctx, bson.M{"_id": org.ID}, options.Count().SetLimit(1))
		if err != nil {
			return err
		}
		if n == 0 {
			return models.ErrNotFound
		}
		return models.ErrVersionConflict
	}
	org.Version++
	return nil
}

// Delete removes an organization.
func (r *MongoRepository) Delete(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}
