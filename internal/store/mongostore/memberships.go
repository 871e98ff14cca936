package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"keyward.io/internal/auth"
)

var _ auth.MembershipStore = (*Memberships)(nil)

// Memberships implements auth.MembershipStore over the memberships
// collection. Uniqueness of (user_id, company_id) relies on EnsureIndexes.
type Memberships struct {
	coll      *mongo.Collection
	companies *mongo.Collection
	now       func() time.Time
}

func (s *Memberships) Create(ctx context.Context, m *auth.Membership) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	m.CreatedAt, m.UpdatedAt = now, now
	if _, err := s.coll.InsertOne(ctx, toMembershipDoc(m)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return auth.ErrAlreadyExists
		}
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// CreateFounder claims the company by inserting its document, keyed by the
// company id, before writing the founding membership. The claim is released
// again if the membership insert fails.
func (s *Memberships) CreateFounder(ctx context.Context, m *auth.Membership) error {
	existing, err := s.coll.CountDocuments(ctx, bson.M{"company_id": m.CompanyID}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if existing > 0 {
		return auth.ErrAlreadyExists
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	if _, err := s.companies.InsertOne(ctx, companyDoc{ID: m.CompanyID, FounderID: m.UserID, CreatedAt: now}); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return auth.ErrAlreadyExists
		}
		return fmt.Errorf("claim company: %w", err)
	}
	if err := s.Create(ctx, m); err != nil {
		_, _ = s.companies.DeleteOne(ctx, bson.M{"_id": m.CompanyID})
		return err
	}
	return nil
}

func (s *Memberships) Find(ctx context.Context, userID, companyID string) (*auth.Membership, error) {
	var doc membershipDoc
	err := s.coll.FindOne(ctx, bson.M{"user_id": userID, "company_id": companyID}).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return doc.membership()
}

func (s *Memberships) Update(ctx context.Context, m *auth.Membership) error {
	now := s.now().UTC().Truncate(time.Millisecond)
	update := bson.M{"$set": bson.M{
		"role":       int(m.Role),
		"status":     string(m.Status),
		"updated_at": now,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc membershipDoc
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"user_id": m.UserID, "company_id": m.CompanyID}, update, opts).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return auth.ErrNotFound
		}
		return err
	}
	m.UpdatedAt = doc.UpdatedAt.UTC()
	return nil
}

func (s *Memberships) ListByCompany(ctx context.Context, companyID string) ([]*auth.Membership, error) {
	opts := options.Find().SetSort(bson.D{{Key: "role", Value: 1}, {Key: "created_at", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M{"company_id": companyID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*auth.Membership
	for cur.Next(ctx) {
		var doc membershipDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		m, err := doc.membership()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, cur.Err()
}
