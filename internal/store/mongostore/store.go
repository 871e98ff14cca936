// Package mongostore persists users and company memberships in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection       = "users"
	membershipsCollection = "memberships"
	companiesCollection   = "companies"
)

// Store wraps a database handle shared by Users and Memberships.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

// Connect dials uri and selects database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	return &Store{client: client, db: client.Database(database), now: time.Now}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping reports whether the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// EnsureIndexes creates the unique email and (user_id, company_id) indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("users_email_key"),
	})
	if err != nil {
		return fmt.Errorf("users index: %w", err)
	}
	_, err = s.db.Collection(membershipsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "company_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("memberships_user_company_key"),
		},
		{
			Keys:    bson.D{{Key: "company_id", Value: 1}, {Key: "role", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("memberships_company_idx"),
		},
	})
	if err != nil {
		return fmt.Errorf("memberships index: %w", err)
	}
	return nil
}

// Users returns the user store backed by s.
func (s *Store) Users() *Users {
	return &Users{coll: s.db.Collection(usersCollection), now: s.now}
}

// Memberships returns the membership store backed by s.
func (s *Store) Memberships() *Memberships {
	return &Memberships{
		coll:      s.db.Collection(membershipsCollection),
		companies: s.db.Collection(companiesCollection),
		now:       s.now,
	}
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
