package course

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/user"
)

const (
	DefaultCredits     = 4
	DefaultMaxStudents = 60
)

// Material kinds
const (
	MaterialPDF   = "pdf"
	MaterialVideo = "video"
	MaterialLink  = "link"
	MaterialDoc   = "doc"
)

var MaterialKinds = []string{MaterialPDF, MaterialVideo, MaterialLink, MaterialDoc}

type Material struct {
	Title      string    `json:"title" validate:"required,notblank"`
	Kind       string    `json:"kind" validate:"required,material_kind"`
	URL        string    `json:"url" validate:"required,notblank"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type Schedule struct {
	Days []string `json:"days"`
	Time string   `json:"time"`
	Room string   `json:"room"`
}

type Course struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Code             string     `json:"code"`
	Description      string     `json:"description"`
	FacultyID        string     `json:"faculty_id"`
	Department       string     `json:"department"`
	Semester         int        `json:"semester"`
	Credits          int        `json:"credits"`
	MaxStudents      int        `json:"max_students"`
	EnrolledStudents []string   `json:"enrolled_students"`
	Materials        []Material `json:"materials"`
	Schedule         Schedule   `json:"schedule"`
	IsActive         bool       `json:"is_active"`
	AcademicYear     string     `json:"academic_year"`
	CreatedAt        time.Time  `json:"created_at"` // UTC
	UpdatedAt        time.Time  `json:"updated_at"` // UTC
}

func (c Course) HasStudent(studentID string) bool {
	for _, id := range c.EnrolledStudents {
		if id == studentID {
			return true
		}
	}
	return false
}

func (c Course) IsFull() bool {
	return len(c.EnrolledStudents) >= c.MaxStudents
}

// CanManage reports whether the caller owns the course or is an admin.
func (c Course) CanManage(caller user.Identity) bool {
	return caller.IsAdmin() || (caller.IsFaculty() && c.FacultyID == caller.ID)
}

// NewCourse contains information needed to create a new Course.
type NewCourse struct {
	Title        string   `json:"title" validate:"required,notblank"`
	Code         string   `json:"code" validate:"required,notblank,max=20"`
	Description  string   `json:"description" validate:"required,notblank"`
	Department   string   `json:"department" validate:"required,notblank"`
	Semester     int      `json:"semester" validate:"required,semester"`
	Credits      int      `json:"credits" validate:"omitempty,min=1,max=10"`
	MaxStudents  int      `json:"max_students" validate:"omitempty,min=1"`
	Schedule     Schedule `json:"schedule"`
	AcademicYear string   `json:"academic_year"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	nc.Code = normalizeCode(nc.Code)
	nc.Description = core.CleanString(nc.Description)
	nc.Department = core.CleanString(nc.Department)
	nc.AcademicYear = core.CleanString(nc.AcademicYear)
	return validate.Struct(nc)
}

// UpdateCourse defines what information may be provided to modify an existing Course.
// Enrollment and materials have their own operations.
type UpdateCourse struct {
	Title        *string   `json:"title" validate:"omitempty,notblank"`
	Code         *string   `json:"code" validate:"omitempty,notblank,max=20"`
	Description  *string   `json:"description" validate:"omitempty,notblank"`
	Department   *string   `json:"department" validate:"omitempty,notblank"`
	Semester     *int      `json:"semester" validate:"omitempty,semester"`
	Credits      *int      `json:"credits" validate:"omitempty,min=1,max=10"`
	MaxStudents  *int      `json:"max_students" validate:"omitempty,min=1"`
	Schedule     *Schedule `json:"schedule"`
	AcademicYear *string   `json:"academic_year" validate:"omitempty,notblank"`
	IsActive     *bool     `json:"is_active"`
}

func (uc *UpdateCourse) Validate(validate *validator.Validate) error {
	for _, s := range []*string{uc.Title, uc.Description, uc.Department, uc.AcademicYear} {
		if s != nil {
			*s = core.CleanString(*s)
		}
	}
	if uc.Code != nil {
		*uc.Code = normalizeCode(*uc.Code)
	}
	return validate.Struct(uc)
}

func (m *Material) Validate(validate *validator.Validate) error {
	m.Title = core.CleanString(m.Title)
	m.Kind = core.CleanString(m.Kind, true /* lower */)
	m.URL = core.CleanString(m.URL)
	return validate.Struct(m)
}

type QueryFilter struct {
	Search     string `query:"search"`
	Semester   int    `query:"semester"`
	Department string `query:"department"`

	// set by the service, never bound from a request
	IsActive  *bool    `query:"-"`
	FacultyID string   `query:"-"`
	StudentID string   `query:"-"`
	IDs       []string `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Department = core.CleanString(qf.Department)
}

// OrderingFields are the fields courses can be sorted by.
var OrderingFields = []string{"title", "code", "semester", "created_at"}

// DefaultOrdering is newest first.
var DefaultOrdering = []core.DBOrdering{{Field: "created_at", Ascending: false}}

// Detail is a course with its faculty and, for those allowed to manage it, its roster.
type Detail struct {
	Course   Course         `json:"course"`
	Faculty  *user.Summary  `json:"faculty"`
	Students []user.Summary `json:"students,omitempty"`
}
