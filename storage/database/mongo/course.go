package mongodb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/course"
	"github.com/guni/lms/core/user"
)

type materialDoc struct {
	Title      string    `bson:"title"`
	Kind       string    `bson:"kind"`
	URL        string    `bson:"url"`
	UploadedAt time.Time `bson:"uploaded_at"`
}

type scheduleDoc struct {
	Days []string `bson:"days"`
	Time string   `bson:"time"`
	Room string   `bson:"room"`
}

type courseDoc struct {
	ID               string        `bson:"_id"`
	Title            string        `bson:"title"`
	Code             string        `bson:"code"`
	Description      string        `bson:"description"`
	FacultyID        string        `bson:"faculty_id"`
	Department       string        `bson:"department"`
	Semester         int           `bson:"semester"`
	Credits          int           `bson:"credits"`
	MaxStudents      int           `bson:"max_students"`
	EnrolledStudents []string      `bson:"enrolled_students"`
	Materials        []materialDoc `bson:"materials"`
	Schedule         scheduleDoc   `bson:"schedule"`
	IsActive         bool          `bson:"is_active"`
	AcademicYear     string        `bson:"academic_year"`
	CreatedAt        time.Time     `bson:"created_at"`
	UpdatedAt        time.Time     `bson:"updated_at"`
}

func (d courseDoc) toCourse() course.Course {
	crs := course.Course{
		ID:               d.ID,
		Title:            d.Title,
		Code:             d.Code,
		Description:      d.Description,
		FacultyID:        d.FacultyID,
		Department:       d.Department,
		Semester:         d.Semester,
		Credits:          d.Credits,
		MaxStudents:      d.MaxStudents,
		EnrolledStudents: d.EnrolledStudents,
		Materials:        make([]course.Material, len(d.Materials)),
		Schedule:         course.Schedule{Days: d.Schedule.Days, Time: d.Schedule.Time, Room: d.Schedule.Room},
		IsActive:         d.IsActive,
		AcademicYear:     d.AcademicYear,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
	if crs.EnrolledStudents == nil {
		crs.EnrolledStudents = []string{}
	}
	for i, m := range d.Materials {
		crs.Materials[i] = course.Material(m)
		crs.Materials[i].UploadedAt = m.UploadedAt.UTC()
	}
	return crs
}

func newCourseDoc(crs course.Course) courseDoc {
	doc := courseDoc{
		ID:               crs.ID,
		Title:            crs.Title,
		Code:             crs.Code,
		Description:      crs.Description,
		FacultyID:        crs.FacultyID,
		Department:       crs.Department,
		Semester:         crs.Semester,
		Credits:          crs.Credits,
		MaxStudents:      crs.MaxStudents,
		EnrolledStudents: crs.EnrolledStudents,
		Materials:        make([]materialDoc, len(crs.Materials)),
		Schedule:         scheduleDoc{Days: crs.Schedule.Days, Time: crs.Schedule.Time, Room: crs.Schedule.Room},
		IsActive:         crs.IsActive,
		AcademicYear:     crs.AcademicYear,
		CreatedAt:        crs.CreatedAt,
		UpdatedAt:        crs.UpdatedAt,
	}
	if doc.EnrolledStudents == nil {
		doc.EnrolledStudents = []string{}
	}
	for i, m := range crs.Materials {
		doc.Materials[i] = materialDoc(m)
	}
	return doc
}

type courseRepository struct {
	db    *DB
	coll  *mongo.Collection
	users *mongo.Collection
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *DB) *courseRepository {
	return &courseRepository{
		db:    db,
		coll:  db.collection(coursesCollection),
		users: db.collection(usersCollection),
	}
}

func (repo *courseRepository) CheckCodeUniqueness(ctx context.Context, code string, excludedIDs ...string) error {
	filter := bson.M{"code": code}
	if len(excludedIDs) > 0 {
		filter["_id"] = bson.M{"$nin": excludedIDs}
	}
	n, err := repo.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return errors.Wrap(err, "counting courses")
	}
	if n > 0 {
		return course.ErrCodeExists
	}
	return nil
}

func (repo *courseRepository) CreateCourse(ctx context.Context, crs course.Course) (course.Course, error) {
	crs.ID = newID()
	doc := newCourseDoc(crs)
	if _, err := repo.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return course.Course{}, course.ErrCodeExists
		}
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return doc.toCourse(), nil
}

func (repo *courseRepository) findOne(ctx context.Context, filter bson.M) (course.Course, error) {
	var doc courseDoc
	if err := repo.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, errors.Wrap(err, "finding course")
	}
	return doc.toCourse(), nil
}

func (repo *courseRepository) GetCourse(ctx context.Context, id string) (course.Course, error) {
	return repo.findOne(ctx, bson.M{"_id": id})
}

func (repo *courseRepository) QueryCourses(ctx context.Context, qf *course.QueryFilter, ordering []core.DBOrdering) ([]course.Course, error) {
	filter := bson.M{}
	if qf != nil {
		if qf.Search != "" {
			filter["$or"] = bson.A{
				bson.M{"title": searchRegex(qf.Search)},
				bson.M{"code": searchRegex(qf.Search)},
			}
		}
		if qf.Semester != 0 {
			filter["semester"] = qf.Semester
		}
		if qf.Department != "" {
			filter["department"] = qf.Department
		}
		if qf.IsActive != nil {
			filter["is_active"] = *qf.IsActive
		}
		if qf.FacultyID != "" {
			filter["faculty_id"] = qf.FacultyID
		}
		if qf.StudentID != "" {
			filter["enrolled_students"] = qf.StudentID
		}
		if qf.IDs != nil {
			filter["_id"] = bson.M{"$in": qf.IDs}
		}
	}
	if len(ordering) == 0 {
		ordering = course.DefaultOrdering
	}

	docs, err := findAll[courseDoc](ctx, repo.coll, filter, options.Find().SetSort(sortFrom(ordering)))
	if err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	courses := make([]course.Course, len(docs))
	for i, d := range docs {
		courses[i] = d.toCourse()
	}
	return courses, nil
}

func (repo *courseRepository) UpdateCourse(ctx context.Context, crs course.Course) (course.Course, error) {
	set := bson.M{
		"title":         crs.Title,
		"code":          crs.Code,
		"description":   crs.Description,
		"department":    crs.Department,
		"semester":      crs.Semester,
		"credits":       crs.Credits,
		"max_students":  crs.MaxStudents,
		"schedule":      newCourseDoc(crs).Schedule,
		"is_active":     crs.IsActive,
		"academic_year": crs.AcademicYear,
		"updated_at":    crs.UpdatedAt,
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc courseDoc
	err := repo.coll.FindOneAndUpdate(ctx, bson.M{"_id": crs.ID}, bson.M{"$set": set}, opts).Decode(&doc)
	switch {
	case err == nil:
		return doc.toCourse(), nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return course.Course{}, course.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return course.Course{}, course.ErrCodeExists
	default:
		return course.Course{}, errors.Wrap(err, "updating course")
	}
}

func (repo *courseRepository) AddMaterial(ctx context.Context, courseID string, m course.Material, now time.Time) (course.Course, error) {
	update := bson.M{
		"$push": bson.M{"materials": materialDoc(m)},
		"$set":  bson.M{"updated_at": now},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc courseDoc
	if err := repo.coll.FindOneAndUpdate(ctx, bson.M{"_id": courseID}, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, errors.Wrap(err, "adding material")
	}
	return doc.toCourse(), nil
}

// Enroll pushes the student onto the course only while a seat is free, then records the course on
// the student; both writes share one transaction.
func (repo *courseRepository) Enroll(ctx context.Context, courseID, studentID string, now time.Time) (course.Course, error) {
	sess, err := repo.db.client.StartSession()
	if err != nil {
		return course.Course{}, errors.Wrap(err, "starting session")
	}
	defer sess.EndSession(ctx)

	res, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		n, err := repo.users.CountDocuments(sc, bson.M{"_id": studentID}, options.Count().SetLimit(1))
		if err != nil {
			return nil, errors.Wrap(err, "finding student")
		}
		if n == 0 {
			return nil, user.ErrNotFound
		}

		filter := bson.M{
			"_id":               courseID,
			"is_active":         true,
			"enrolled_students": bson.M{"$ne": studentID},
			"$expr":             bson.M{"$lt": bson.A{bson.M{"$size": "$enrolled_students"}, "$max_students"}},
		}
		update := bson.M{
			"$push": bson.M{"enrolled_students": studentID},
			"$set":  bson.M{"updated_at": now},
		}
		opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
		var doc courseDoc
		err = repo.coll.FindOneAndUpdate(sc, filter, update, opts).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repo.enrollFailure(sc, courseID, studentID)
		} else if err != nil {
			return nil, errors.Wrap(err, "enrolling student")
		}

		_, err = repo.users.UpdateOne(sc, bson.M{"_id": studentID}, bson.M{
			"$addToSet": bson.M{"enrolled_courses": courseID},
			"$set":      bson.M{"updated_at": now},
		})
		if err != nil {
			return nil, errors.Wrap(err, "recording enrollment on student")
		}
		return doc.toCourse(), nil
	})
	if err != nil {
		return course.Course{}, err
	}
	return res.(course.Course), nil
}

// enrollFailure explains why the conditional enrollment update matched nothing.
func (repo *courseRepository) enrollFailure(ctx context.Context, courseID, studentID string) error {
	crs, err := repo.findOne(ctx, bson.M{"_id": courseID})
	switch {
	case err != nil:
		return err
	case !crs.IsActive:
		return course.ErrNotFound
	case crs.HasStudent(studentID):
		return course.ErrAlreadyEnrolled
	default:
		return course.ErrCourseFull
	}
}
