package mongodb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/user"
)

type userDoc struct {
	ID              string    `bson:"_id"`
	Name            string    `bson:"name"`
	Email           string    `bson:"email"`
	Role            string    `bson:"role"`
	EnrollmentID    string    `bson:"enrollment_id,omitempty"`
	Department      string    `bson:"department"`
	Semester        int       `bson:"semester,omitempty"`
	Phone           string    `bson:"phone"`
	Bio             string    `bson:"bio"`
	IsActive        bool      `bson:"is_active"`
	EnrolledCourses []string  `bson:"enrolled_courses"`
	PasswordHash    []byte    `bson:"password_hash"`
	LastLogin       time.Time `bson:"last_login"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func (d userDoc) toUser() user.User {
	if d.EnrolledCourses == nil {
		d.EnrolledCourses = []string{}
	}
	return user.User{
		ID:              d.ID,
		Name:            d.Name,
		Email:           d.Email,
		Role:            d.Role,
		EnrollmentID:    d.EnrollmentID,
		Department:      d.Department,
		Semester:        d.Semester,
		Phone:           d.Phone,
		Bio:             d.Bio,
		IsActive:        d.IsActive,
		EnrolledCourses: d.EnrolledCourses,
		PasswordHash:    d.PasswordHash,
		LastLogin:       d.LastLogin.UTC(),
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
}

func newUserDoc(usr user.User) userDoc {
	if usr.EnrolledCourses == nil {
		usr.EnrolledCourses = []string{}
	}
	return userDoc{
		ID:              usr.ID,
		Name:            usr.Name,
		Email:           usr.Email,
		Role:            usr.Role,
		EnrollmentID:    usr.EnrollmentID,
		Department:      usr.Department,
		Semester:        usr.Semester,
		Phone:           usr.Phone,
		Bio:             usr.Bio,
		IsActive:        usr.IsActive,
		EnrolledCourses: usr.EnrolledCourses,
		PasswordHash:    usr.PasswordHash,
		LastLogin:       usr.LastLogin,
		CreatedAt:       usr.CreatedAt,
		UpdatedAt:       usr.UpdatedAt,
	}
}

type userRepository struct {
	coll *mongo.Collection
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{coll: db.collection(usersCollection)}
}

func (repo *userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedIDs ...string) error {
	filter := bson.M{"email": email}
	if len(excludedIDs) > 0 {
		filter["_id"] = bson.M{"$nin": excludedIDs}
	}
	n, err := repo.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return errors.Wrap(err, "counting users")
	}
	if n > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = newID()
	doc := newUserDoc(usr)
	if _, err := repo.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return doc.toUser(), nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var query bson.M
	switch {
	case filter.ID != "":
		query = bson.M{"_id": filter.ID}
	case filter.Email != "":
		query = bson.M{"email": filter.Email}
	default:
		return user.User{}, user.ErrNotFound
	}

	var doc userDoc
	if err := repo.coll.FindOne(ctx, query).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "finding user")
	}
	return doc.toUser(), nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, qf *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	filter := bson.M{}
	if qf != nil {
		if qf.Search != "" {
			filter["$or"] = bson.A{
				bson.M{"name": searchRegex(qf.Search)},
				bson.M{"email": searchRegex(qf.Search)},
				bson.M{"enrollment_id": searchRegex(qf.Search)},
			}
		}
		if len(qf.Roles) > 0 {
			filter["role"] = bson.M{"$in": qf.Roles}
		}
		if qf.IsActive != nil {
			filter["is_active"] = *qf.IsActive
		}
		if qf.IDs != nil {
			filter["_id"] = bson.M{"$in": qf.IDs}
		}
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}

	docs, err := findAll[userDoc](ctx, repo.coll, filter, options.Find().SetSort(sortFrom(ordering)))
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, len(docs))
	for i, d := range docs {
		users[i] = d.toUser()
	}
	return users, nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	set := bson.M{
		"name":       usr.Name,
		"email":      usr.Email,
		"role":       usr.Role,
		"department": usr.Department,
		"semester":   usr.Semester,
		"phone":      usr.Phone,
		"bio":        usr.Bio,
		"is_active":  usr.IsActive,
		"last_login": usr.LastLogin,
		"updated_at": usr.UpdatedAt,
	}
	if usr.PasswordHash != nil {
		set["password_hash"] = usr.PasswordHash
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc userDoc
	err := repo.coll.FindOneAndUpdate(ctx, bson.M{"_id": usr.ID}, bson.M{"$set": set}, opts).Decode(&doc)
	switch {
	case err == nil:
		return doc.toUser(), nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return user.User{}, user.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return user.User{}, user.ErrEmailExists
	default:
		return user.User{}, errors.Wrap(err, "updating user")
	}
}
