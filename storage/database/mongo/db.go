// Package mongodb stores LMS records in MongoDB collections keyed by UUID strings.
package mongodb

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/guni/lms/core"
)

const (
	usersCollection       = "users"
	coursesCollection     = "courses"
	assignmentsCollection = "assignments"
	submissionsCollection = "submissions"
)

type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to conf.Database.MongoURI, pings the server and makes sure the unique indexes exist.
func Open(ctx context.Context, conf *core.Config) (*DB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(conf.Database.MongoURI))
	if err != nil {
		return nil, errors.Wrap(err, "mongo.Connect")
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "mongo.Ping")
	}

	db := &DB{client: client, db: client.Database(conf.Database.Name)}
	if err = db.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return db, nil
}

// Handle connects on first use and hands the same *DB to every caller afterwards.
type Handle struct {
	conf *core.Config
	once sync.Once
	db   *DB
	err  error
}

func NewHandle(conf *core.Config) *Handle {
	return &Handle{conf: conf}
}

func (h *Handle) DB(ctx context.Context) (*DB, error) {
	h.once.Do(func() { h.db, h.err = Open(ctx, h.conf) })
	return h.db, h.err
}

// Close disconnects if a connection was ever made.
func (h *Handle) Close(ctx context.Context) error {
	h.once.Do(func() { h.err = errors.New("mongodb handle closed") })
	if h.db == nil {
		return nil
	}
	return h.db.Close(ctx)
}

func (db *DB) Close(ctx context.Context) error {
	return db.client.Disconnect(ctx)
}

func (db *DB) collection(name string) *mongo.Collection {
	return db.db.Collection(name)
}

// EnsureIndexes creates the unique indexes the repositories rely on; it is idempotent.
func (db *DB) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		usersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "role", Value: 1}}},
		},
		coursesCollection: {
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "faculty_id", Value: 1}}},
			{Keys: bson.D{{Key: "enrolled_students", Value: 1}}},
		},
		assignmentsCollection: {
			{Keys: bson.D{{Key: "course_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		submissionsCollection: {
			{
				Keys:    bson.D{{Key: "assignment_id", Value: 1}, {Key: "student_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
	for name, models := range indexes {
		if _, err := db.collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "creating %s indexes", name)
		}
	}
	return nil
}

// Drop removes every collection; used by the admin CLI and integration tests.
func (db *DB) Drop(ctx context.Context) error {
	return errors.Wrap(db.db.Drop(ctx), "dropping database")
}

func newID() string {
	return uuid.New().String()
}

// sortFrom turns orderings into a mongo sort document with an _id tiebreak.
func sortFrom(ordering []core.DBOrdering) bson.D {
	sort := make(bson.D, 0, len(ordering)+1)
	for _, o := range ordering {
		dir := -1
		if o.Ascending {
			dir = 1
		}
		sort = append(sort, bson.E{Key: o.Field, Value: dir})
	}
	return append(sort, bson.E{Key: "_id", Value: 1})
}

// searchRegex matches s anywhere, case-insensitively.
func searchRegex(s string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(strings.TrimSpace(s)), "$options": "i"}
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, opts *options.FindOptions) ([]T, error) {
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	docs := make([]T, 0)
	if err = cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
