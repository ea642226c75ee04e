package user

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/guni/lms/core"
)

var (
	// errors
	ErrNotFound             = core.NewNotFoundError("user not found")
	ErrEmailExists          = core.NewConflictError("a user with this email already exists")
	ErrInvalidCredentials   = core.NewAuthError("invalid email or password")
	ErrAccountDeactivated   = core.NewPermissionError("account deactivated")
	ErrRoleNotAllowed       = core.NewPermissionError("this role cannot be self-assigned")
	errWrongCurrentPassword = core.NewValidationError(
		errors.New("current password is incorrect"),
		core.FieldError{Field: "current_password", Error: "current password is incorrect"},
	)
	errStudentRoleFixed = core.NewValidationError(
		errors.New("student accounts cannot change role"),
		core.FieldError{Field: "role", Error: "student accounts cannot change role"},
	)
)

type (
	Repository interface {
		// CheckEmailUniqueness returns ErrEmailExists if another user (not in excludedIDs) uses email.
		CheckEmailUniqueness(ctx context.Context, email string, excludedIDs ...string) error
		// CreateUser returns ErrEmailExists if the email is taken.
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Email or User.EnrollmentID.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		// UpdateUser saves every field except ID, EnrollmentID, EnrolledCourses & CreatedAt.
		UpdateUser(ctx context.Context, usr User) (User, error)
	}

	Service interface {
		Register(ctx context.Context, nu NewUser) (User, error)
		Authenticate(ctx context.Context, email, pwd string) (User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		Summaries(ctx context.Context, ids []string) ([]Summary, error)
		UpdateProfile(ctx context.Context, id string, up UpdateProfile) (User, error)
		AdminUpdate(ctx context.Context, caller Identity, id string, au AdminUpdate) (User, error)
	}
)

type service struct {
	repo    Repository
	mailSvc core.EmailService
	conf    *core.Config
	nowFunc func() time.Time
}

var _ Service = (*service)(nil)

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config) Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(mailSvc, "mailSvc"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	return &service{
		repo:    repo,
		mailSvc: mailSvc,
		conf:    conf,
		nowFunc: core.NowFunc,
	}
}

// NewEnrollmentID generates a student enrollment id: prefix + 8 upper-case hex chars.
func NewEnrollmentID(prefix string) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + strings.ToUpper(id[:8])
}

// New builds (without saving) a User from validated NewUser data.
func New(nu NewUser, conf *core.Config, now time.Time) (User, error) {
	usr := User{
		Name:            nu.Name,
		Email:           nu.Email,
		Role:            nu.Role,
		Department:      nu.Department,
		Semester:        nu.Semester,
		Phone:           nu.Phone,
		IsActive:        true,
		EnrolledCourses: []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if usr.Role == "" {
		usr.Role = RoleStudent
	}
	if usr.Department == "" {
		usr.Department = conf.DefaultDepartment
	}
	if usr.Role == RoleStudent {
		usr.EnrollmentID = NewEnrollmentID(conf.EnrollmentIDPrefix)
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	return usr, nil
}

func (svc *service) Register(ctx context.Context, nu NewUser) (User, error) {
	if nu.Role != "" && nu.Role != RoleStudent && nu.Role != RoleFaculty {
		return User{}, ErrRoleNotAllowed
	}
	if err := svc.repo.CheckEmailUniqueness(ctx, nu.Email); err != nil {
		return User{}, err
	}

	usr, err := New(nu, svc.conf, svc.nowFunc())
	if err != nil {
		return User{}, err
	}
	usr, err = svc.repo.CreateUser(ctx, usr)
	if err != nil {
		return User{}, errors.Wrap(err, "creating user")
	}

	svc.sendWelcomeMail(usr)
	return usr, nil
}

type welcomeData struct {
	Name         string
	Role         string
	EnrollmentID string
}

func (svc *service) sendWelcomeMail(usr User) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Welcome to " + svc.conf.AppName,
		TemplateName: "welcome",
		TemplateData: welcomeData{Name: usr.Name, Role: usr.Role, EnrollmentID: usr.EnrollmentID},
	})
}

func (svc *service) Authenticate(ctx context.Context, email, pwd string) (User, error) {
	usr, err := svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return User{}, ErrInvalidCredentials
		}
		return User{}, errors.Wrap(err, "finding user by email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if !usr.IsActive {
		return User{}, ErrAccountDeactivated
	}

	usr.LastLogin = svc.nowFunc()
	usr, err = svc.repo.UpdateUser(ctx, usr)
	return usr, errors.Wrap(err, "setting last login")
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	if id == "" {
		return User{}, ErrNotFound
	}
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	if filter != nil {
		filter.Clean()
	}
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *service) Summaries(ctx context.Context, ids []string) ([]Summary, error) {
	if len(ids) == 0 {
		return []Summary{}, nil
	}
	users, err := svc.repo.QueryUsers(ctx, &QueryFilter{IDs: ids}, []core.DBOrdering{{Field: "name", Ascending: true}})
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	summaries := make([]Summary, 0, len(users))
	for _, u := range users {
		summaries = append(summaries, u.Summary())
	}
	return summaries, nil
}

func (svc *service) UpdateProfile(ctx context.Context, id string, up UpdateProfile) (User, error) {
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}

	if up.NewPassword != "" {
		if err = usr.CheckPassword(up.CurrentPassword); err != nil {
			return User{}, errWrongCurrentPassword
		}
		if err = usr.SetPassword(up.NewPassword); err != nil {
			return User{}, errors.Wrap(err, "hashing password")
		}
	}
	up.apply(&usr)
	usr.UpdatedAt = svc.nowFunc()

	usr, err = svc.repo.UpdateUser(ctx, usr)
	return usr, errors.Wrap(err, "updating user")
}

func (svc *service) AdminUpdate(ctx context.Context, caller Identity, id string, au AdminUpdate) (User, error) {
	if !caller.IsAdmin() {
		return User{}, core.ErrPermissionDenied
	}
	// an admin cannot lock themselves out
	if caller.ID == id && ((au.IsActive != nil && !*au.IsActive) || (au.Role != "" && au.Role != RoleAdmin)) {
		return User{}, core.ErrPermissionDenied
	}

	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if au.Role != "" && au.Role != usr.Role {
		// enrollment ids are bound to student accounts for life
		if usr.Role == RoleStudent || au.Role == RoleStudent {
			return User{}, errStudentRoleFixed
		}
		usr.Role = au.Role
	}
	if au.IsActive != nil {
		usr.IsActive = *au.IsActive
	}
	usr.UpdatedAt = svc.nowFunc()

	usr, err = svc.repo.UpdateUser(ctx, usr)
	return usr, errors.Wrap(err, "updating user")
}
