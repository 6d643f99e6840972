package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrNotFound reports a missing document. Session resolution folds missing,
// expired, and orphaned sessions into this one error.
var ErrNotFound = errors.New("not found")

// Store is the durable document store behind the user directory, session
// store, task routes, and audit log. Implementations are safe for
// concurrent use.
type Store interface {
	GetUser(ctx context.Context, userID string) (User, error)
	PutUser(ctx context.Context, user User) error

	GetSession(ctx context.Context, sessionID string) (Session, error)
	PutSession(ctx context.Context, sess Session) error
	UpdateSessionLastSeen(ctx context.Context, sessionID string, lastSeenAt time.Time) error
	DeleteSession(ctx context.Context, sessionID string) error

	ListTasks(ctx context.Context, userID string) ([]Task, error)
	GetTask(ctx context.Context, userID, taskID string) (Task, error)
	PutTask(ctx context.Context, task Task) error

	AppendAudit(ctx context.Context, event AuditEvent) error
}

// UpsertUser creates or refreshes the directory record for the verified
// identity. createdAt survives updates; every other profile field is
// overwritten with the latest claims.
func UpsertUser(ctx context.Context, store Store, id Identity) (User, error) {
	now := time.Now()
	user := User{
		UserID:        id.Subject,
		Name:          id.Name,
		Email:         id.Email,
		EmailVerified: id.EmailVerified,
		Picture:       id.Picture,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastLoginAt:   now,
	}

	existing, err := store.GetUser(ctx, id.Subject)
	switch {
	case err == nil:
		user.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
	default:
		return User{}, fmt.Errorf("lookup user %s: %w", id.Subject, err)
	}

	if err := store.PutUser(ctx, user); err != nil {
		return User{}, fmt.Errorf("upsert user %s: %w", id.Subject, err)
	}
	return user, nil
}

// MongoStore persists documents in a MongoDB database.
type MongoStore struct {
	users    *mongo.Collection
	sessions *mongo.Collection
	tasks    *mongo.Collection
	audit    *mongo.Collection
}

// NewMongoStore connects to the configured deployment and verifies
// reachability with a ping.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	return &MongoStore{
		users:    db.Collection("users"),
		sessions: db.Collection("sessions"),
		tasks:    db.Collection("tasks"),
		audit:    db.Collection("audit_logs"),
	}, nil
}

func (m *MongoStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := m.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (m *MongoStore) PutUser(ctx context.Context, user User) error {
	_, err := m.users.ReplaceOne(ctx, bson.M{"_id": user.UserID}, user,
		options.Replace().SetUpsert(true))
	return err
}

func (m *MongoStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var sess Session
	err := m.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&sess)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (m *MongoStore) PutSession(ctx context.Context, sess Session) error {
	_, err := m.sessions.ReplaceOne(ctx, bson.M{"_id": sess.ID}, sess,
		options.Replace().SetUpsert(true))
	return err
}

func (m *MongoStore) UpdateSessionLastSeen(ctx context.Context, sessionID string, lastSeenAt time.Time) error {
	_, err := m.sessions.UpdateOne(ctx, bson.M{"_id": sessionID},
		bson.M{"$set": bson.M{"lastSeenAt": lastSeenAt}})
	return err
}

func (m *MongoStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := m.sessions.DeleteOne(ctx, bson.M{"_id": sessionID})
	return err
}

func (m *MongoStore) ListTasks(ctx context.Context, userID string) ([]Task, error) {
	cursor, err := m.tasks.Find(ctx, bson.M{"userId": userID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var tasks []Task
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (m *MongoStore) GetTask(ctx context.Context, userID, taskID string) (Task, error) {
	var task Task
	err := m.tasks.FindOne(ctx, bson.M{"_id": taskID, "userId": userID}).Decode(&task)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

func (m *MongoStore) PutTask(ctx context.Context, task Task) error {
	_, err := m.tasks.ReplaceOne(ctx, bson.M{"_id": task.TaskID}, task,
		options.Replace().SetUpsert(true))
	return err
}

func (m *MongoStore) AppendAudit(ctx context.Context, event AuditEvent) error {
	_, err := m.audit.InsertOne(ctx, event)
	return err
}
