// Package docstore holds the MongoDB client shared by the document-store
// repositories.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ehr/clinic/internal/platform/apperr"
)

// Collection names.
const (
	Users         = "users"
	Medicines     = "medicine"
	Prescriptions = "prescription"
)

// Store wraps a connected client and its database handle.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri and pings the primary before returning.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	if database == "" {
		return nil, fmt.Errorf("mongo database name is required")
	}
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

func (s *Store) Database() *mongo.Database { return s.db }

func (s *Store) Collection(name string) *mongo.Collection { return s.db.Collection(name) }

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Driver() string { return "mongo" }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Stats() interface{} {
	return map[string]interface{}{
		"database":             s.db.Name(),
		"sessions_in_progress": s.client.NumberSessionsInProgress(),
	}
}

// Indexes is the index set every collection needs. The unique email index is
// what enforces credential uniqueness under concurrent registration.
func Indexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		Users: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("users_email_unique")},
			{Keys: bson.D{{Key: "role", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName("users_role_created")},
		},
		Medicines: {
			{Keys: bson.D{{Key: "nurse_id", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName("medicine_nurse_created")},
		},
		Prescriptions: {
			{Keys: bson.D{{Key: "doctor_id", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName("prescription_doctor_created")},
		},
	}
}

// EnsureIndexes creates any missing index and returns the names it reported.
func (s *Store) EnsureIndexes(ctx context.Context) ([]string, error) {
	var created []string
	for coll, models := range Indexes() {
		names, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models)
		if err != nil {
			return created, fmt.Errorf("create indexes on %s: %w", coll, err)
		}
		created = append(created, names...)
	}
	return created, nil
}

// Classify maps a driver error onto the apperr kinds.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, op)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %s: duplicate key", apperr.ErrConflict, op)
	}
	return apperr.Store(op, err)
}
