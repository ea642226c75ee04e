package assignment

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/user"
)

const DefaultTotalMarks = 100

// Assignment kinds
const (
	KindAssignment = "assignment"
	KindProject    = "project"
	KindLab        = "lab"
)

var Kinds = []string{KindAssignment, KindProject, KindLab}

// Submission statuses
const (
	StatusSubmitted = "submitted"
	StatusLate      = "late"
	StatusGraded    = "graded"
)

type Assignment struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CourseID    string    `json:"course_id"`
	FacultyID   string    `json:"faculty_id"`
	DueDate     time.Time `json:"due_date"` // UTC
	TotalMarks  int       `json:"total_marks"`
	Kind        string    `json:"kind"`
	IsVisible   bool      `json:"is_visible"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

// IsPastDue reports whether now is strictly after the due date.
func (a Assignment) IsPastDue(now time.Time) bool {
	return now.After(a.DueDate)
}

// CanGrade reports whether the caller authored the assignment or is an admin.
func (a Assignment) CanGrade(caller user.Identity) bool {
	return caller.IsAdmin() || (caller.IsFaculty() && a.FacultyID == caller.ID)
}

// Submission is a student's single answer to an Assignment; (AssignmentID, StudentID) is unique.
type Submission struct {
	ID           string    `json:"id"`
	AssignmentID string    `json:"assignment_id"`
	StudentID    string    `json:"student_id"`
	Content      string    `json:"content"`
	FileURL      string    `json:"file_url"`
	SubmittedAt  time.Time `json:"submitted_at"` // UTC
	Status       string    `json:"status"`
	IsLate       bool      `json:"is_late"`
	Grade        *float64  `json:"grade"`
	Feedback     string    `json:"feedback"`
	GradedBy     string    `json:"graded_by,omitempty"`
	GradedAt     time.Time `json:"graded_at"` // UTC
}

func (s Submission) IsGraded() bool { return s.Status == StatusGraded }

// NewAssignment contains information needed to create a new Assignment.
type NewAssignment struct {
	Title       string    `json:"title" validate:"required,notblank"`
	Description string    `json:"description" validate:"required,notblank"`
	CourseID    string    `json:"course_id" validate:"required"`
	DueDate     time.Time `json:"due_date" validate:"required"`
	TotalMarks  int       `json:"total_marks" validate:"omitempty,min=1"`
	Kind        string    `json:"kind" validate:"omitempty,assignment_kind"`
	IsVisible   *bool     `json:"is_visible"`
}

func (na *NewAssignment) Validate(validate *validator.Validate) error {
	na.Title = core.CleanString(na.Title)
	na.Description = core.CleanString(na.Description)
	na.CourseID = core.CleanString(na.CourseID)
	na.Kind = core.CleanString(na.Kind, true /* lower */)
	return validate.Struct(na)
}

// NewSubmission is what a student sends when submitting. Content is stored as sent.
type NewSubmission struct {
	Content string `json:"content" validate:"required_without=FileURL,omitempty,notblank"`
	FileURL string `json:"file_url"`
}

func (ns *NewSubmission) Validate(validate *validator.Validate) error {
	ns.FileURL = core.CleanString(ns.FileURL)
	return validate.Struct(ns)
}

// GradeSubmission is what a grader sends; the upper bound of Grade depends on the assignment.
// Feedback is stored as sent.
type GradeSubmission struct {
	StudentID string   `json:"student_id" validate:"required"`
	Grade     *float64 `json:"grade" validate:"required,min=0"`
	Feedback  string   `json:"feedback" validate:"max=2000"`
}

func (gs *GradeSubmission) Validate(validate *validator.Validate) error {
	gs.StudentID = core.CleanString(gs.StudentID)
	return validate.Struct(gs)
}

type QueryFilter struct {
	FacultyID   string
	CourseIDs   []string
	VisibleOnly bool
	IDs         []string
}

type SubmissionFilter struct {
	AssignmentIDs []string
	StudentID     string
	Statuses      []string
}

// Detail is an assignment with the submissions the caller may see.
type Detail struct {
	Assignment  Assignment   `json:"assignment"`
	Submissions []Submission `json:"submissions"`
}
