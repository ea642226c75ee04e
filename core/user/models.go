package user

import (
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/guni/lms/core"
)

// Roles
const (
	RoleStudent = "student"
	RoleFaculty = "faculty"
	RoleAdmin   = "admin"
)

var (
	AllRoles = []string{RoleStudent, RoleFaculty, RoleAdmin}

	// roles anyone can pick when signing up; admins are created with the admin CLI
	PublicRoles = []string{RoleStudent, RoleFaculty}

	Roles = []Role{
		{Name: "Student", Value: RoleStudent},
		{Name: "Faculty", Value: RoleFaculty},
		{Name: "Admin", Value: RoleAdmin},
	}
)

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Identity is who is calling, as resolved from a session token.
type Identity struct {
	ID   string
	Role string
}

func (id Identity) IsStudent() bool { return id.Role == RoleStudent }
func (id Identity) IsFaculty() bool { return id.Role == RoleFaculty }
func (id Identity) IsAdmin() bool   { return id.Role == RoleAdmin }

// IsStaff reports whether the caller can author courses and assignments.
func (id Identity) IsStaff() bool { return id.IsFaculty() || id.IsAdmin() }

type User struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Role            string    `json:"role"`
	EnrollmentID    string    `json:"enrollment_id,omitempty"`
	Department      string    `json:"department"`
	Semester        int       `json:"semester,omitempty"`
	Phone           string    `json:"phone"`
	Bio             string    `json:"bio"`
	IsActive        bool      `json:"is_active"`
	EnrolledCourses []string  `json:"enrolled_courses"`
	PasswordHash    []byte    `json:"-"`
	LastLogin       time.Time `json:"last_login"` // UTC
	CreatedAt       time.Time `json:"created_at"` // UTC
	UpdatedAt       time.Time `json:"updated_at"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) Identity() Identity {
	return Identity{ID: u.ID, Role: u.Role}
}

func (u User) IsStudent() bool { return u.Role == RoleStudent }
func (u User) IsFaculty() bool { return u.Role == RoleFaculty }
func (u User) IsAdmin() bool   { return u.Role == RoleAdmin }

// IsEnrolledIn reports whether courseID is in the user's enrolled courses.
func (u User) IsEnrolledIn(courseID string) bool {
	for _, id := range u.EnrolledCourses {
		if id == courseID {
			return true
		}
	}
	return false
}

// Summary is the public part of a User embedded in other resources.
type Summary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	EnrollmentID string `json:"enrollment_id,omitempty"`
	Bio          string `json:"bio,omitempty"`
}

func (u User) Summary() Summary {
	return Summary{ID: u.ID, Name: u.Name, Email: u.Email, EnrollmentID: u.EnrollmentID, Bio: u.Bio}
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name       string `json:"name" validate:"required,notblank"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	Role       string `json:"role" validate:"omitempty,role"`
	Department string `json:"department"`
	Semester   int    `json:"semester" validate:"omitempty,semester"`
	Phone      string `json:"phone"`
}

func (nu *NewUser) Validate(validate *validator.Validate) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Department = core.CleanString(nu.Department)
	nu.Phone = core.CleanString(nu.Phone)
	if nu.Role == "" {
		nu.Role = RoleStudent
	}
	return validate.Struct(nu)
}

// UpdateProfile defines what a user may change on their own account.
type UpdateProfile struct {
	Name            *string `json:"name" validate:"omitempty,notblank"`
	Phone           *string `json:"phone"`
	Bio             *string `json:"bio" validate:"omitempty,max=500"`
	Department      *string `json:"department" validate:"omitempty,notblank"`
	Semester        *int    `json:"semester" validate:"omitempty,semester"`
	CurrentPassword string  `json:"current_password" validate:"required_with=NewPassword"`
	NewPassword     string  `json:"new_password"`

	// used by the password policy only
	email string
}

func (up *UpdateProfile) Validate(validate *validator.Validate, usr User) error {
	clean := func(s *string) {
		if s != nil {
			*s = core.CleanString(*s)
		}
	}
	clean(up.Name)
	clean(up.Phone)
	clean(up.Bio)
	clean(up.Department)
	up.email = usr.Email
	return validate.Struct(up)
}

func (up UpdateProfile) apply(usr *User) {
	if up.Name != nil {
		usr.Name = *up.Name
	}
	if up.Phone != nil {
		usr.Phone = *up.Phone
	}
	if up.Bio != nil {
		usr.Bio = *up.Bio
	}
	if up.Department != nil {
		usr.Department = *up.Department
	}
	if up.Semester != nil {
		usr.Semester = *up.Semester
	}
}

// AdminUpdate is what an admin may change on any account.
type AdminUpdate struct {
	Role     string `json:"role" validate:"omitempty,role"`
	IsActive *bool  `json:"is_active"`
}

func (au AdminUpdate) Validate(validate *validator.Validate) error { return validate.Struct(au) }

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Email = core.CleanString(lr.Email, true /* lower */)
	return validate.Struct(lr)
}

// GetFilter selects a single user; the first non-empty field wins.
type GetFilter struct {
	ID    string
	Email string
}

type QueryFilter struct {
	Search   string   `query:"search"`
	Roles    []string `query:"role"`
	IsActive *bool    `query:"is_active"`
	IDs      []string `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// OrderingFields are the fields users can be sorted by.
var OrderingFields = []string{"name", "email", "role", "created_at", "last_login"}
