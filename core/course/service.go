package course

import (
	"context"
	"time"

	"github.com/jinzhu/copier"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/user"
)

var (
	// errors
	ErrNotFound         = core.NewNotFoundError("course not found")
	ErrCodeExists       = core.NewConflictError("a course with this code already exists")
	ErrAlreadyEnrolled  = core.NewConflictError("already enrolled in this course")
	ErrCourseFull       = core.NewConflictError("course is full")
	ErrStudentsOnly     = core.NewPermissionError("only students can enroll in courses")
	ErrStaffOnly        = core.NewPermissionError("only faculty and admins can manage courses")
	errCapacityTooSmall = core.NewValidationError(
		errors.New("max_students cannot be lower than the number of enrolled students"),
		core.FieldError{Field: "max_students", Error: "max_students cannot be lower than the number of enrolled students"},
	)
)

type (
	Repository interface {
		// CheckCodeUniqueness returns ErrCodeExists if another course (not in excludedIDs) uses code.
		CheckCodeUniqueness(ctx context.Context, code string, excludedIDs ...string) error
		CreateCourse(ctx context.Context, crs Course) (Course, error)
		GetCourse(ctx context.Context, id string) (Course, error)
		// QueryCourses applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive substring match on Course.Title or Course.Code.
		QueryCourses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error)
		// UpdateCourse saves the editable fields; enrolled students, materials, faculty & created_at are left untouched.
		UpdateCourse(ctx context.Context, crs Course) (Course, error)
		AddMaterial(ctx context.Context, courseID string, m Material, now time.Time) (Course, error)
		// Enroll adds the student to an active course's enrolled students and the course to the student's
		// enrolled courses as a single atomic operation. The membership and capacity checks happen inside it.
		// Returns ErrNotFound, ErrAlreadyEnrolled or ErrCourseFull.
		Enroll(ctx context.Context, courseID, studentID string, now time.Time) (Course, error)
	}

	Service interface {
		Create(ctx context.Context, caller user.Identity, nc NewCourse) (Course, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error)
		GetByID(ctx context.Context, id string) (Course, error)
		Detail(ctx context.Context, caller user.Identity, id string) (Detail, error)
		Update(ctx context.Context, caller user.Identity, id string, uc UpdateCourse) (Course, error)
		Deactivate(ctx context.Context, caller user.Identity, id string) (Course, error)
		AddMaterial(ctx context.Context, caller user.Identity, id string, m Material) (Course, error)
		Enroll(ctx context.Context, caller user.Identity, id string) (Course, error)
		MyCourses(ctx context.Context, caller user.Identity) ([]Course, error)
	}
)

type service struct {
	repo    Repository
	usrSvc  user.Service
	conf    *core.Config
	nowFunc func() time.Time
}

var _ Service = (*service)(nil)

func NewService(repo Repository, usrSvc user.Service, conf *core.Config) Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(usrSvc, "usrSvc"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	return &service{
		repo:    repo,
		usrSvc:  usrSvc,
		conf:    conf,
		nowFunc: core.NowFunc,
	}
}

func (svc *service) Create(ctx context.Context, caller user.Identity, nc NewCourse) (Course, error) {
	if !caller.IsStaff() {
		return Course{}, ErrStaffOnly
	}
	if err := svc.repo.CheckCodeUniqueness(ctx, nc.Code); err != nil {
		return Course{}, err
	}

	now := svc.nowFunc()
	crs := Course{
		Title:            nc.Title,
		Code:             nc.Code,
		Description:      nc.Description,
		FacultyID:        caller.ID,
		Department:       nc.Department,
		Semester:         nc.Semester,
		Credits:          nc.Credits,
		MaxStudents:      nc.MaxStudents,
		EnrolledStudents: []string{},
		Materials:        []Material{},
		Schedule:         nc.Schedule,
		IsActive:         true,
		AcademicYear:     nc.AcademicYear,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if crs.Credits == 0 {
		crs.Credits = DefaultCredits
	}
	if crs.MaxStudents == 0 {
		crs.MaxStudents = DefaultMaxStudents
	}
	if crs.AcademicYear == "" {
		crs.AcademicYear = svc.conf.AcademicYear
	}

	crs, err := svc.repo.CreateCourse(ctx, crs)
	return crs, errors.Wrap(err, "creating course")
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.Clean()
	active := true
	filter.IsActive = &active
	if len(ordering) == 0 {
		ordering = DefaultOrdering
	}
	return svc.repo.QueryCourses(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (Course, error) {
	if id == "" {
		return Course{}, ErrNotFound
	}
	return svc.repo.GetCourse(ctx, id)
}

func (svc *service) Detail(ctx context.Context, caller user.Identity, id string) (Detail, error) {
	crs, err := svc.GetByID(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	// inactive courses are only visible to those who manage them
	if !crs.IsActive && !crs.CanManage(caller) {
		return Detail{}, ErrNotFound
	}

	detail := Detail{Course: crs}
	if faculty, err := svc.usrSvc.GetByID(ctx, crs.FacultyID); err == nil {
		summary := faculty.Summary()
		detail.Faculty = &summary
	} else if errors.Cause(err) != user.ErrNotFound {
		return Detail{}, errors.Wrap(err, "finding course faculty")
	}

	if crs.CanManage(caller) {
		detail.Students, err = svc.usrSvc.Summaries(ctx, crs.EnrolledStudents)
		if err != nil {
			return Detail{}, errors.Wrap(err, "finding enrolled students")
		}
	}
	return detail, nil
}

// getManaged returns the course if the caller may manage it.
func (svc *service) getManaged(ctx context.Context, caller user.Identity, id string) (Course, error) {
	if !caller.IsStaff() {
		return Course{}, ErrStaffOnly
	}
	crs, err := svc.GetByID(ctx, id)
	if err != nil {
		return Course{}, err
	}
	if !crs.CanManage(caller) {
		return Course{}, core.ErrPermissionDenied
	}
	return crs, nil
}

func (svc *service) Update(ctx context.Context, caller user.Identity, id string, uc UpdateCourse) (Course, error) {
	crs, err := svc.getManaged(ctx, caller, id)
	if err != nil {
		return Course{}, err
	}

	if uc.Code != nil && *uc.Code != crs.Code {
		if err = svc.repo.CheckCodeUniqueness(ctx, *uc.Code, crs.ID); err != nil {
			return Course{}, err
		}
	}
	if uc.MaxStudents != nil && *uc.MaxStudents < len(crs.EnrolledStudents) {
		return Course{}, errCapacityTooSmall
	}

	if err = copier.CopyWithOption(&crs, &uc, copier.Option{IgnoreEmpty: true}); err != nil {
		return Course{}, errors.Wrap(err, "patching course")
	}
	crs.UpdatedAt = svc.nowFunc()

	crs, err = svc.repo.UpdateCourse(ctx, crs)
	return crs, errors.Wrap(err, "updating course")
}

func (svc *service) Deactivate(ctx context.Context, caller user.Identity, id string) (Course, error) {
	crs, err := svc.getManaged(ctx, caller, id)
	if err != nil {
		return Course{}, err
	}
	if !crs.IsActive {
		return crs, nil
	}
	crs.IsActive = false
	crs.UpdatedAt = svc.nowFunc()

	crs, err = svc.repo.UpdateCourse(ctx, crs)
	return crs, errors.Wrap(err, "deactivating course")
}

func (svc *service) AddMaterial(ctx context.Context, caller user.Identity, id string, m Material) (Course, error) {
	if _, err := svc.getManaged(ctx, caller, id); err != nil {
		return Course{}, err
	}
	now := svc.nowFunc()
	m.UploadedAt = now

	crs, err := svc.repo.AddMaterial(ctx, id, m, now)
	return crs, errors.Wrap(err, "adding material")
}

func (svc *service) Enroll(ctx context.Context, caller user.Identity, id string) (Course, error) {
	if !caller.IsStudent() {
		return Course{}, ErrStudentsOnly
	}
	if id == "" {
		return Course{}, ErrNotFound
	}

	crs, err := svc.repo.Enroll(ctx, id, caller.ID, svc.nowFunc())
	return crs, errors.Wrap(err, "enrolling student")
}

func (svc *service) MyCourses(ctx context.Context, caller user.Identity) ([]Course, error) {
	filter := new(QueryFilter)
	if caller.IsFaculty() {
		filter.FacultyID = caller.ID
	} else {
		filter.StudentID = caller.ID
	}
	return svc.repo.QueryCourses(ctx, filter, DefaultOrdering)
}
