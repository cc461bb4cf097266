package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Repository provides refresh-credential persistence operations. All
// implementations must be strongly consistent: Delete is the arbiter for
// concurrent rotation, so its removed-report must reflect exactly one winner.
type Repository interface {
	// Save inserts one record. Returns ErrDuplicateToken when the token
	// string already exists.
	Save(ctx context.Context, s *Session) error
	// IsValid reports whether a record exists for the token. Signature and
	// expiry are the codec's concern, not the store's.
	IsValid(ctx context.Context, refresh string) (bool, error)
	// Delete removes one record. Idempotent; reports whether a record was
	// actually removed.
	Delete(ctx context.Context, refresh string) (bool, error)
	// DeleteAllForUser removes every record owned by the user.
	DeleteAllForUser(ctx context.Context, userID string) error
	// PurgeExpired removes records whose expiry has passed and returns the
	// number removed. Never touches live sessions.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// opTimeout bounds every store call so a slow backend surfaces
// ErrUnavailable instead of hanging the request.
const opTimeout = 5 * time.Second

func mapStoreErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrUnavailable
	}
	return err
}

// MongoRepository implements Repository using a Mongo collection with a
// unique index on the token string.
type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

// EnsureIndexes creates the unique token index and the owner index. Call once
// at startup.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "refreshToken", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("ensure session indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) Save(ctx context.Context, s *Session) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if _, err := r.col.InsertOne(ctx, s); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateToken
		}
		return mapStoreErr(err)
	}
	return nil
}

func (r *MongoRepository) IsValid(ctx context.Context, refresh string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	err := r.col.FindOne(ctx, bson.M{"refreshToken": refresh}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, mapStoreErr(err)
	}
	return true, nil
}

func (r *MongoRepository) Delete(ctx context.Context, refresh string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	res, err := r.col.DeleteOne(ctx, bson.M{"refreshToken": refresh})
	if err != nil {
		return false, mapStoreErr(err)
	}
	return res.DeletedCount > 0, nil
}

func (r *MongoRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := r.col.DeleteMany(ctx, bson.M{"userId": userID}); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

func (r *MongoRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	res, err := r.col.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lt": now.UTC()}})
	if err != nil {
		return 0, mapStoreErr(err)
	}
	return res.DeletedCount, nil
}
