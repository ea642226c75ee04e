package mongodb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/guni/lms/core/assignment"
)

type assignmentDoc struct {
	ID          string    `bson:"_id"`
	Title       string    `bson:"title"`
	Description string    `bson:"description"`
	CourseID    string    `bson:"course_id"`
	FacultyID   string    `bson:"faculty_id"`
	DueDate     time.Time `bson:"due_date"`
	TotalMarks  int       `bson:"total_marks"`
	Kind        string    `bson:"kind"`
	IsVisible   bool      `bson:"is_visible"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (d assignmentDoc) toAssignment() assignment.Assignment {
	a := assignment.Assignment(d)
	a.DueDate = d.DueDate.UTC()
	a.CreatedAt = d.CreatedAt.UTC()
	a.UpdatedAt = d.UpdatedAt.UTC()
	return a
}

type submissionDoc struct {
	ID           string    `bson:"_id"`
	AssignmentID string    `bson:"assignment_id"`
	StudentID    string    `bson:"student_id"`
	Content      string    `bson:"content"`
	FileURL      string    `bson:"file_url"`
	SubmittedAt  time.Time `bson:"submitted_at"`
	Status       string    `bson:"status"`
	IsLate       bool      `bson:"is_late"`
	Grade        *float64  `bson:"grade"`
	Feedback     string    `bson:"feedback"`
	GradedBy     string    `bson:"graded_by,omitempty"`
	GradedAt     time.Time `bson:"graded_at"`
}

func (d submissionDoc) toSubmission() assignment.Submission {
	s := assignment.Submission(d)
	s.SubmittedAt = d.SubmittedAt.UTC()
	s.GradedAt = d.GradedAt.UTC()
	return s
}

type assignmentRepository struct {
	assignments *mongo.Collection
	submissions *mongo.Collection
}

var _ assignment.Repository = (*assignmentRepository)(nil) // interface compliance check

func NewAssignmentRepository(db *DB) *assignmentRepository {
	return &assignmentRepository{
		assignments: db.collection(assignmentsCollection),
		submissions: db.collection(submissionsCollection),
	}
}

func (repo *assignmentRepository) CreateAssignment(ctx context.Context, a assignment.Assignment) (assignment.Assignment, error) {
	a.ID = newID()
	if _, err := repo.assignments.InsertOne(ctx, assignmentDoc(a)); err != nil {
		return assignment.Assignment{}, errors.Wrap(err, "inserting assignment")
	}
	return a, nil
}

func (repo *assignmentRepository) GetAssignment(ctx context.Context, id string) (assignment.Assignment, error) {
	var doc assignmentDoc
	if err := repo.assignments.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return assignment.Assignment{}, assignment.ErrNotFound
		}
		return assignment.Assignment{}, errors.Wrap(err, "finding assignment")
	}
	return doc.toAssignment(), nil
}

func (repo *assignmentRepository) QueryAssignments(ctx context.Context, qf assignment.QueryFilter) ([]assignment.Assignment, error) {
	filter := bson.M{}
	if qf.FacultyID != "" {
		filter["faculty_id"] = qf.FacultyID
	}
	if qf.CourseIDs != nil {
		filter["course_id"] = bson.M{"$in": qf.CourseIDs}
	}
	if qf.VisibleOnly {
		filter["is_visible"] = true
	}
	if qf.IDs != nil {
		filter["_id"] = bson.M{"$in": qf.IDs}
	}

	sort := bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}
	docs, err := findAll[assignmentDoc](ctx, repo.assignments, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, errors.Wrap(err, "querying assignments")
	}
	assignments := make([]assignment.Assignment, len(docs))
	for i, d := range docs {
		assignments[i] = d.toAssignment()
	}
	return assignments, nil
}

func (repo *assignmentRepository) CreateSubmission(ctx context.Context, sub assignment.Submission) (assignment.Submission, error) {
	sub.ID = newID()
	if _, err := repo.submissions.InsertOne(ctx, submissionDoc(sub)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return assignment.Submission{}, assignment.ErrAlreadySubmitted
		}
		return assignment.Submission{}, errors.Wrap(err, "inserting submission")
	}
	return sub, nil
}

func (repo *assignmentRepository) GetSubmission(ctx context.Context, assignmentID, studentID string) (assignment.Submission, error) {
	var doc submissionDoc
	err := repo.submissions.FindOne(ctx, bson.M{"assignment_id": assignmentID, "student_id": studentID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return assignment.Submission{}, assignment.ErrSubmissionNotFound
		}
		return assignment.Submission{}, errors.Wrap(err, "finding submission")
	}
	return doc.toSubmission(), nil
}

func (repo *assignmentRepository) QuerySubmissions(ctx context.Context, sf assignment.SubmissionFilter) ([]assignment.Submission, error) {
	filter := bson.M{}
	if sf.AssignmentIDs != nil {
		filter["assignment_id"] = bson.M{"$in": sf.AssignmentIDs}
	}
	if sf.StudentID != "" {
		filter["student_id"] = sf.StudentID
	}
	if len(sf.Statuses) > 0 {
		filter["status"] = bson.M{"$in": sf.Statuses}
	}

	sort := bson.D{{Key: "submitted_at", Value: 1}, {Key: "_id", Value: 1}}
	docs, err := findAll[submissionDoc](ctx, repo.submissions, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	subs := make([]assignment.Submission, len(docs))
	for i, d := range docs {
		subs[i] = d.toSubmission()
	}
	return subs, nil
}

func (repo *assignmentRepository) UpdateSubmission(ctx context.Context, sub assignment.Submission) (assignment.Submission, error) {
	set := bson.M{
		"status":    sub.Status,
		"grade":     sub.Grade,
		"feedback":  sub.Feedback,
		"graded_by": sub.GradedBy,
		"graded_at": sub.GradedAt,
	}
	filter := bson.M{"assignment_id": sub.AssignmentID, "student_id": sub.StudentID}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc submissionDoc
	if err := repo.submissions.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return assignment.Submission{}, assignment.ErrSubmissionNotFound
		}
		return assignment.Submission{}, errors.Wrap(err, "grading submission")
	}
	return doc.toSubmission(), nil
}
