package inmemdb

import (
	"cmp"
	"context"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/assignment"
)

type assignmentRepository struct {
	db *DB
}

var _ assignment.Repository = (*assignmentRepository)(nil) // interface compliance check

func NewAssignmentRepository(db *DB) *assignmentRepository {
	return &assignmentRepository{db: db}
}

func submissionKey(assignmentID, studentID string) string {
	return assignmentID + "/" + studentID
}

func copySubmission(sub *assignment.Submission) assignment.Submission {
	s := *sub
	if sub.Grade != nil {
		g := *sub.Grade
		s.Grade = &g
	}
	return s
}

func (repo *assignmentRepository) CreateAssignment(_ context.Context, a assignment.Assignment) (assignment.Assignment, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	a.ID = newID()
	stored := a
	repo.db.assignments[a.ID] = &stored
	return a, nil
}

func (repo *assignmentRepository) GetAssignment(_ context.Context, id string) (assignment.Assignment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if a, ok := repo.db.assignments[id]; ok {
		return *a, nil
	}
	return assignment.Assignment{}, assignment.ErrNotFound
}

func (repo *assignmentRepository) QueryAssignments(_ context.Context, filter assignment.QueryFilter) ([]assignment.Assignment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	assignments := make([]assignment.Assignment, 0)
	for _, a := range repo.db.assignments {
		if filter.FacultyID != "" && a.FacultyID != filter.FacultyID {
			continue
		}
		if filter.CourseIDs != nil && !contains(filter.CourseIDs, a.CourseID) {
			continue
		}
		if filter.VisibleOnly && !a.IsVisible {
			continue
		}
		if filter.IDs != nil && !contains(filter.IDs, a.ID) {
			continue
		}
		assignments = append(assignments, *a)
	}
	sortByOrdering(assignments, withTiebreak([]core.DBOrdering{{Field: "created_at"}}), func(field string, a, b assignment.Assignment) int {
		if field == "created_at" {
			return a.CreatedAt.Compare(b.CreatedAt)
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return assignments, nil
}

func (repo *assignmentRepository) CreateSubmission(_ context.Context, sub assignment.Submission) (assignment.Submission, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	key := submissionKey(sub.AssignmentID, sub.StudentID)
	if _, ok := repo.db.submissions[key]; ok {
		return assignment.Submission{}, assignment.ErrAlreadySubmitted
	}
	sub.ID = newID()
	stored := copySubmission(&sub)
	repo.db.submissions[key] = &stored
	return copySubmission(&stored), nil
}

func (repo *assignmentRepository) GetSubmission(_ context.Context, assignmentID, studentID string) (assignment.Submission, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if sub, ok := repo.db.submissions[submissionKey(assignmentID, studentID)]; ok {
		return copySubmission(sub), nil
	}
	return assignment.Submission{}, assignment.ErrSubmissionNotFound
}

func (repo *assignmentRepository) QuerySubmissions(_ context.Context, filter assignment.SubmissionFilter) ([]assignment.Submission, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	subs := make([]assignment.Submission, 0)
	for _, sub := range repo.db.submissions {
		if filter.AssignmentIDs != nil && !contains(filter.AssignmentIDs, sub.AssignmentID) {
			continue
		}
		if filter.StudentID != "" && sub.StudentID != filter.StudentID {
			continue
		}
		if len(filter.Statuses) > 0 && !contains(filter.Statuses, sub.Status) {
			continue
		}
		subs = append(subs, copySubmission(sub))
	}
	sortByOrdering(subs, withTiebreak([]core.DBOrdering{{Field: "submitted_at", Ascending: true}}), func(field string, a, b assignment.Submission) int {
		if field == "submitted_at" {
			return a.SubmittedAt.Compare(b.SubmittedAt)
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return subs, nil
}

func (repo *assignmentRepository) UpdateSubmission(_ context.Context, sub assignment.Submission) (assignment.Submission, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	stored, ok := repo.db.submissions[submissionKey(sub.AssignmentID, sub.StudentID)]
	if !ok {
		return assignment.Submission{}, assignment.ErrSubmissionNotFound
	}
	// content & submission time are immutable
	stored.Status = sub.Status
	stored.Grade = sub.Grade
	stored.Feedback = sub.Feedback
	stored.GradedBy = sub.GradedBy
	stored.GradedAt = sub.GradedAt
	return copySubmission(stored), nil
}
