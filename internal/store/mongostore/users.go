package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"keyward.io/internal/auth"
	"keyward.io/internal/ids"
)

var _ auth.UserStore = (*Users)(nil)

// Users implements auth.UserStore over the users collection.
type Users struct {
	coll *mongo.Collection
	now  func() time.Time
}

func (s *Users) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = auth.NormalizeEmail(u.Email)
	now := s.now().UTC().Truncate(time.Millisecond)
	u.CreatedAt, u.UpdatedAt = now, now
	if _, err := s.coll.InsertOne(ctx, toUserDoc(u)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return auth.ErrAlreadyExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Users) FindByID(ctx context.Context, id string) (*auth.User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *Users) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findOne(ctx, bson.M{"email": auth.NormalizeEmail(email)})
}

// RotateSecret swaps the secret with a single atomic document update.
func (s *Users) RotateSecret(ctx context.Context, userID, secret string) error {
	return s.findAndSet(ctx, userID, bson.M{"rotation_secret": secret})
}

func (s *Users) UpdatePassword(ctx context.Context, userID, passwordHash, secret string) error {
	return s.findAndSet(ctx, userID, bson.M{"password_hash": passwordHash, "rotation_secret": secret})
}

func (s *Users) MarkVerified(ctx context.Context, userID string, at time.Time) error {
	return s.findAndSet(ctx, userID, bson.M{"verified_at": at.UTC()})
}

func (s *Users) SetTOTPSecret(ctx context.Context, userID, secret string) error {
	return s.findAndSet(ctx, userID, bson.M{"totp_secret": secret})
}

func (s *Users) findOne(ctx context.Context, filter bson.M) (*auth.User, error) {
	var doc userDoc
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return doc.user(), nil
}

func (s *Users) findAndSet(ctx context.Context, userID string, set bson.M) error {
	set["updated_at"] = s.now().UTC()
	opts := options.FindOneAndUpdate().SetProjection(bson.M{"_id": 1})
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"_id": userID}, bson.M{"$set": set}, opts).Err()
	if isNoDocuments(err) {
		return auth.ErrNotFound
	}
	return err
}
