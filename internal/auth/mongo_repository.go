package auth

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/orgkeep/backend/internal/models"
)

// UsersCollection is the MongoDB collection holding user documents.
const UsersCollection = "users"

// MongoRepository handles user persistence in MongoDB.
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository creates a user repository on db.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(UsersCollection)}
}

// EnsureIndexes creates the unique email index and the membership index.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "organizations", Value: 1}}},
	})
	return err
}

// Create inserts a new user. A taken email yields models.ErrDuplicate.
func (r *MongoRepository) Create(ctx context.Context, u *models.User) error {
	doc := *u
	if doc.Organizations == nil {
		doc.Organizations = []string{}
	}
	_, err := r.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return models.ErrDuplicate
	}
	return err
}

// GetByID returns a user by ID.
func (r *MongoRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// GetByEmail returns a user by email.
func (r *MongoRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	err := r.coll.FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// AddOrganization appends orgID to the user's memberships unless already present.
func (r *MongoRepository) AddOrganization(ctx context.Context, userID, orgID string) error {
	return r.updateOne(ctx, userID, bson.M{
		"$addToSet": bson.M{"organizations": orgID},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	})
}

// RemoveOrganization drops orgID from the user's memberships.
func (r *MongoRepository) RemoveOrganization(ctx context.Context, userID, orgID string) error {
	return r.updateOne(ctx, userID, bson.M{
		"$pull": bson.M{"organizations": orgID},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	})
}

func (r *MongoRepository) updateOne(ctx context.Context, userID string, update bson.M) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RemoveOrganizationFromAll drops orgID from every user that lists it.
func (r *MongoRepository) RemoveOrganizationFromAll(ctx context.Context, orgID string) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"organizations": orgID},
		bson.M{
			"$pull": bson.M{"organizations": orgID},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
