package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/assignment"
)

const (
	assignmentColumns = `id, title, description, course_id, faculty_id, due_date, total_marks, kind, is_visible,
		created_at, updated_at`
	submissionColumns = `id, assignment_id, student_id, content, file_url, submitted_at, status, is_late, grade,
		feedback, graded_by, graded_at`
)

type assignmentRow struct {
	ID          string    `db:"id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	CourseID    string    `db:"course_id"`
	FacultyID   string    `db:"faculty_id"`
	DueDate     null.Time `db:"due_date"`
	TotalMarks  int       `db:"total_marks"`
	Kind        string    `db:"kind"`
	IsVisible   bool      `db:"is_visible"`
	CreatedAt   null.Time `db:"created_at"`
	UpdatedAt   null.Time `db:"updated_at"`
}

func newAssignmentRow(a assignment.Assignment) assignmentRow {
	return assignmentRow{
		ID:          a.ID,
		Title:       a.Title,
		Description: a.Description,
		CourseID:    a.CourseID,
		FacultyID:   a.FacultyID,
		DueDate:     null.TimeFrom(a.DueDate.UTC()),
		TotalMarks:  a.TotalMarks,
		Kind:        a.Kind,
		IsVisible:   a.IsVisible,
		CreatedAt:   null.TimeFrom(a.CreatedAt.UTC()),
		UpdatedAt:   null.TimeFrom(a.UpdatedAt.UTC()),
	}
}

func (r assignmentRow) toAssignment() assignment.Assignment {
	return assignment.Assignment{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		CourseID:    r.CourseID,
		FacultyID:   r.FacultyID,
		DueDate:     utc(r.DueDate),
		TotalMarks:  r.TotalMarks,
		Kind:        r.Kind,
		IsVisible:   r.IsVisible,
		CreatedAt:   utc(r.CreatedAt),
		UpdatedAt:   utc(r.UpdatedAt),
	}
}

type submissionRow struct {
	ID           string       `db:"id"`
	AssignmentID string       `db:"assignment_id"`
	StudentID    string       `db:"student_id"`
	Content      string       `db:"content"`
	FileURL      string       `db:"file_url"`
	SubmittedAt  null.Time    `db:"submitted_at"`
	Status       string       `db:"status"`
	IsLate       bool         `db:"is_late"`
	Grade        null.Float64 `db:"grade"`
	Feedback     string       `db:"feedback"`
	GradedBy     null.String  `db:"graded_by"`
	GradedAt     null.Time    `db:"graded_at"`
}

func newSubmissionRow(s assignment.Submission) submissionRow {
	return submissionRow{
		ID:           s.ID,
		AssignmentID: s.AssignmentID,
		StudentID:    s.StudentID,
		Content:      s.Content,
		FileURL:      s.FileURL,
		SubmittedAt:  null.TimeFrom(s.SubmittedAt.UTC()),
		Status:       s.Status,
		IsLate:       s.IsLate,
		Grade:        null.Float64FromPtr(s.Grade),
		Feedback:     s.Feedback,
		GradedBy:     null.NewString(s.GradedBy, s.GradedBy != ""),
		GradedAt:     null.NewTime(s.GradedAt.UTC(), !s.GradedAt.IsZero()),
	}
}

func (r submissionRow) toSubmission() assignment.Submission {
	return assignment.Submission{
		ID:           r.ID,
		AssignmentID: r.AssignmentID,
		StudentID:    r.StudentID,
		Content:      r.Content,
		FileURL:      r.FileURL,
		SubmittedAt:  utc(r.SubmittedAt),
		Status:       r.Status,
		IsLate:       r.IsLate,
		Grade:        r.Grade.Ptr(),
		Feedback:     r.Feedback,
		GradedBy:     r.GradedBy.String,
		GradedAt:     utc(r.GradedAt),
	}
}

type assignmentRepository struct {
	db core.DB
}

var _ assignment.Repository = (*assignmentRepository)(nil) // interface compliance check

func NewAssignmentRepository(db core.DB) *assignmentRepository {
	return &assignmentRepository{db: db}
}

func (repo *assignmentRepository) CreateAssignment(ctx context.Context, a assignment.Assignment) (assignment.Assignment, error) {
	a.ID = uuid.New().String()
	_, err := repo.db.NamedExecContext(ctx, `INSERT INTO assignment (`+assignmentColumns+`) VALUES (
		:id, :title, :description, :course_id, :faculty_id, :due_date, :total_marks, :kind, :is_visible,
		:created_at, :updated_at)`, newAssignmentRow(a))
	if err != nil {
		return assignment.Assignment{}, errors.Wrap(err, "inserting assignment")
	}
	return a, nil
}

func (repo *assignmentRepository) GetAssignment(ctx context.Context, id string) (assignment.Assignment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return assignment.Assignment{}, assignment.ErrNotFound
	}
	var row assignmentRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+assignmentColumns+` FROM assignment WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return assignment.Assignment{}, assignment.ErrNotFound
		}
		return assignment.Assignment{}, errors.Wrap(err, "finding assignment")
	}
	return row.toAssignment(), nil
}

func (repo *assignmentRepository) QueryAssignments(ctx context.Context, filter assignment.QueryFilter) ([]assignment.Assignment, error) {
	var conds []string
	var args []interface{}
	if filter.FacultyID != "" {
		conds = append(conds, "faculty_id = ?")
		args = append(args, filter.FacultyID)
	}
	if filter.CourseIDs != nil {
		if len(filter.CourseIDs) == 0 {
			return []assignment.Assignment{}, nil
		}
		conds = append(conds, "course_id IN (?)")
		args = append(args, filter.CourseIDs)
	}
	if filter.VisibleOnly {
		conds = append(conds, "is_visible")
	}
	if filter.IDs != nil {
		if len(filter.IDs) == 0 {
			return []assignment.Assignment{}, nil
		}
		conds = append(conds, "id IN (?)")
		args = append(args, filter.IDs)
	}

	var rows []assignmentRow
	q := `SELECT ` + assignmentColumns + ` FROM assignment` + where(conds) +
		orderBy([]core.DBOrdering{{Field: "created_at"}})
	if err := selectIn(ctx, repo.db, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying assignments")
	}
	assignments := make([]assignment.Assignment, len(rows))
	for i, r := range rows {
		assignments[i] = r.toAssignment()
	}
	return assignments, nil
}

func (repo *assignmentRepository) CreateSubmission(ctx context.Context, sub assignment.Submission) (assignment.Submission, error) {
	sub.ID = uuid.New().String()
	_, err := repo.db.NamedExecContext(ctx, `INSERT INTO submission (`+submissionColumns+`) VALUES (
		:id, :assignment_id, :student_id, :content, :file_url, :submitted_at, :status, :is_late, :grade,
		:feedback, :graded_by, :graded_at)`, newSubmissionRow(sub))
	if err != nil {
		if isUniqueViolation(err, "") {
			return assignment.Submission{}, assignment.ErrAlreadySubmitted
		}
		return assignment.Submission{}, errors.Wrap(err, "inserting submission")
	}
	return sub, nil
}

func (repo *assignmentRepository) GetSubmission(ctx context.Context, assignmentID, studentID string) (assignment.Submission, error) {
	if _, err := uuid.Parse(assignmentID); err != nil {
		return assignment.Submission{}, assignment.ErrSubmissionNotFound
	}
	if _, err := uuid.Parse(studentID); err != nil {
		return assignment.Submission{}, assignment.ErrSubmissionNotFound
	}
	var row submissionRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT `+submissionColumns+` FROM submission WHERE assignment_id = $1 AND student_id = $2`,
		assignmentID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return assignment.Submission{}, assignment.ErrSubmissionNotFound
		}
		return assignment.Submission{}, errors.Wrap(err, "finding submission")
	}
	return row.toSubmission(), nil
}

func (repo *assignmentRepository) QuerySubmissions(ctx context.Context, filter assignment.SubmissionFilter) ([]assignment.Submission, error) {
	var conds []string
	var args []interface{}
	if filter.AssignmentIDs != nil {
		if len(filter.AssignmentIDs) == 0 {
			return []assignment.Submission{}, nil
		}
		conds = append(conds, "assignment_id IN (?)")
		args = append(args, filter.AssignmentIDs)
	}
	if filter.StudentID != "" {
		conds = append(conds, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	if len(filter.Statuses) > 0 {
		conds = append(conds, "status IN (?)")
		args = append(args, filter.Statuses)
	}

	var rows []submissionRow
	q := `SELECT ` + submissionColumns + ` FROM submission` + where(conds) +
		orderBy([]core.DBOrdering{{Field: "submitted_at", Ascending: true}})
	if err := selectIn(ctx, repo.db, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	subs := make([]assignment.Submission, len(rows))
	for i, r := range rows {
		subs[i] = r.toSubmission()
	}
	return subs, nil
}

func (repo *assignmentRepository) UpdateSubmission(ctx context.Context, sub assignment.Submission) (assignment.Submission, error) {
	res, err := repo.db.NamedExecContext(ctx, `UPDATE submission SET status = :status, grade = :grade,
		feedback = :feedback, graded_by = :graded_by, graded_at = :graded_at
		WHERE assignment_id = :assignment_id AND student_id = :student_id`, newSubmissionRow(sub))
	if err != nil {
		return assignment.Submission{}, errors.Wrap(err, "grading submission")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return assignment.Submission{}, assignment.ErrSubmissionNotFound
	}
	return repo.GetSubmission(ctx, sub.AssignmentID, sub.StudentID)
}
