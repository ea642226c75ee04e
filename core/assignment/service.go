package assignment

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/course"
	"github.com/guni/lms/core/user"
)

var (
	// errors
	ErrNotFound           = core.NewNotFoundError("assignment not found")
	ErrSubmissionNotFound = core.NewNotFoundError("submission not found")
	ErrAlreadySubmitted   = core.NewConflictError("assignment already submitted")
	ErrStudentsOnly       = core.NewPermissionError("only students can submit assignments")
	ErrStaffOnly          = core.NewPermissionError("only faculty and admins can manage assignments")
	ErrNotEnrolled        = core.NewPermissionError("not enrolled in this course")
)

type (
	Repository interface {
		CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
		GetAssignment(ctx context.Context, id string) (Assignment, error)
		// QueryAssignments applies AND operation on available QueryFilter fields; newest first.
		QueryAssignments(ctx context.Context, filter QueryFilter) ([]Assignment, error)

		// CreateSubmission returns ErrAlreadySubmitted if the student already submitted to the assignment.
		CreateSubmission(ctx context.Context, sub Submission) (Submission, error)
		GetSubmission(ctx context.Context, assignmentID, studentID string) (Submission, error)
		// QuerySubmissions applies AND operation on available SubmissionFilter fields; oldest first.
		QuerySubmissions(ctx context.Context, filter SubmissionFilter) ([]Submission, error)
		// UpdateSubmission saves the grading fields (status, grade, feedback, graded_by, graded_at).
		UpdateSubmission(ctx context.Context, sub Submission) (Submission, error)
	}

	Service interface {
		Create(ctx context.Context, caller user.Identity, na NewAssignment) (Assignment, error)
		Query(ctx context.Context, caller user.Identity) ([]Assignment, error)
		QueryByCourse(ctx context.Context, caller user.Identity, crs course.Course) ([]Assignment, error)
		Detail(ctx context.Context, caller user.Identity, id string) (Detail, error)
		Submit(ctx context.Context, caller user.Identity, id string, ns NewSubmission) (Submission, error)
		Grade(ctx context.Context, caller user.Identity, id string, gs GradeSubmission) (Submission, error)
		// QuerySubmissions returns the submissions the caller may see: their own for students,
		// those on their assignments for faculty, all of them for admins.
		QuerySubmissions(ctx context.Context, caller user.Identity, statuses ...string) ([]Submission, error)
	}
)

type service struct {
	repo      Repository
	courseSvc course.Service
	usrSvc    user.Service
	mailSvc   core.EmailService
	conf      *core.Config
	nowFunc   func() time.Time
}

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	courseSvc course.Service,
	usrSvc user.Service,
	mailSvc core.EmailService,
	conf *core.Config,
) Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(courseSvc, "courseSvc"),
		vala.IsNotNil(usrSvc, "usrSvc"),
		vala.IsNotNil(mailSvc, "mailSvc"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	return &service{
		repo:      repo,
		courseSvc: courseSvc,
		usrSvc:    usrSvc,
		mailSvc:   mailSvc,
		conf:      conf,
		nowFunc:   core.NowFunc,
	}
}

func (svc *service) Create(ctx context.Context, caller user.Identity, na NewAssignment) (Assignment, error) {
	if !caller.IsStaff() {
		return Assignment{}, ErrStaffOnly
	}
	crs, err := svc.courseSvc.GetByID(ctx, na.CourseID)
	if err != nil {
		if errors.Cause(err) == course.ErrNotFound {
			return Assignment{}, core.NewValidationError(err, core.FieldError{Field: "course_id", Error: err.Error()})
		}
		return Assignment{}, errors.Wrap(err, "finding course")
	}
	if !crs.CanManage(caller) {
		return Assignment{}, core.ErrPermissionDenied
	}

	now := svc.nowFunc()
	a := Assignment{
		Title:       na.Title,
		Description: na.Description,
		CourseID:    crs.ID,
		FacultyID:   crs.FacultyID, // admins post on behalf of the course's faculty
		DueDate:     na.DueDate.UTC().Truncate(time.Millisecond),
		TotalMarks:  na.TotalMarks,
		Kind:        na.Kind,
		IsVisible:   true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if a.TotalMarks == 0 {
		a.TotalMarks = DefaultTotalMarks
	}
	if a.Kind == "" {
		a.Kind = KindAssignment
	}
	if na.IsVisible != nil {
		a.IsVisible = *na.IsVisible
	}

	a, err = svc.repo.CreateAssignment(ctx, a)
	if err != nil {
		return Assignment{}, errors.Wrap(err, "creating assignment")
	}

	if a.IsVisible {
		svc.notifyStudents(ctx, a, crs)
	}
	return a, nil
}

type newAssignmentData struct {
	StudentName  string
	AssignmentID string
	Title        string
	Kind         string
	DueDate      string
	TotalMarks   int
	CourseCode   string
	CourseTitle  string
}

// notifyStudents emails every enrolled student about a; failures never fail the caller.
func (svc *service) notifyStudents(ctx context.Context, a Assignment, crs course.Course) {
	students, err := svc.usrSvc.Summaries(ctx, crs.EnrolledStudents)
	if err != nil || len(students) == 0 {
		return
	}

	messages := make([]*core.EmailMessage, 0, len(students))
	for _, s := range students {
		messages = append(messages, &core.EmailMessage{
			To:           []mail.Address{{Name: s.Name, Address: s.Email}},
			Subject:      fmt.Sprintf("New %s in %s: %s", a.Kind, crs.Code, a.Title),
			TemplateName: "new_assignment",
			TemplateData: newAssignmentData{
				StudentName:  s.Name,
				AssignmentID: a.ID,
				Title:        a.Title,
				Kind:         a.Kind,
				DueDate:      a.DueDate.Format("Mon, 02 Jan 2006 15:04 MST"),
				TotalMarks:   a.TotalMarks,
				CourseCode:   crs.Code,
				CourseTitle:  crs.Title,
			},
		})
	}
	svc.mailSvc.SendMessages(messages...)
}

func (svc *service) enrolledCourseIDs(ctx context.Context, caller user.Identity) ([]string, error) {
	courses, err := svc.courseSvc.MyCourses(ctx, caller)
	if err != nil {
		return nil, errors.Wrap(err, "querying enrolled courses")
	}
	return lo.Map(courses, func(c course.Course, _ int) string { return c.ID }), nil
}

func (svc *service) Query(ctx context.Context, caller user.Identity) ([]Assignment, error) {
	var filter QueryFilter
	switch {
	case caller.IsAdmin():
	case caller.IsFaculty():
		filter.FacultyID = caller.ID
	default:
		ids, err := svc.enrolledCourseIDs(ctx, caller)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return []Assignment{}, nil
		}
		filter.CourseIDs = ids
		filter.VisibleOnly = true
	}
	return svc.repo.QueryAssignments(ctx, filter)
}

func (svc *service) QueryByCourse(ctx context.Context, caller user.Identity, crs course.Course) ([]Assignment, error) {
	filter := QueryFilter{CourseIDs: []string{crs.ID}, VisibleOnly: !crs.CanManage(caller)}
	return svc.repo.QueryAssignments(ctx, filter)
}

func (svc *service) GetByID(ctx context.Context, id string) (Assignment, error) {
	if id == "" {
		return Assignment{}, ErrNotFound
	}
	return svc.repo.GetAssignment(ctx, id)
}

// getForStudent returns the assignment if it is visible and the student is enrolled in its course.
func (svc *service) getForStudent(ctx context.Context, caller user.Identity, id string) (Assignment, error) {
	a, err := svc.GetByID(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if !a.IsVisible {
		return Assignment{}, ErrNotFound
	}
	crs, err := svc.courseSvc.GetByID(ctx, a.CourseID)
	if err != nil {
		return Assignment{}, errors.Wrap(err, "finding course")
	}
	if !crs.IsActive {
		return Assignment{}, ErrNotFound
	}
	if !crs.HasStudent(caller.ID) {
		return Assignment{}, ErrNotEnrolled
	}
	return a, nil
}

func (svc *service) Detail(ctx context.Context, caller user.Identity, id string) (Detail, error) {
	if caller.IsStudent() {
		a, err := svc.getForStudent(ctx, caller, id)
		if err != nil {
			if errors.Cause(err) == ErrNotEnrolled {
				return Detail{}, ErrNotFound
			}
			return Detail{}, err
		}
		subs, err := svc.repo.QuerySubmissions(ctx, SubmissionFilter{AssignmentIDs: []string{a.ID}, StudentID: caller.ID})
		if err != nil {
			return Detail{}, errors.Wrap(err, "querying submissions")
		}
		return Detail{Assignment: a, Submissions: subs}, nil
	}

	a, err := svc.GetByID(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	detail := Detail{Assignment: a, Submissions: []Submission{}}
	if a.CanGrade(caller) {
		detail.Submissions, err = svc.repo.QuerySubmissions(ctx, SubmissionFilter{AssignmentIDs: []string{a.ID}})
		if err != nil {
			return Detail{}, errors.Wrap(err, "querying submissions")
		}
	}
	return detail, nil
}

func (svc *service) Submit(ctx context.Context, caller user.Identity, id string, ns NewSubmission) (Submission, error) {
	if !caller.IsStudent() {
		return Submission{}, ErrStudentsOnly
	}
	a, err := svc.getForStudent(ctx, caller, id)
	if err != nil {
		return Submission{}, err
	}

	if _, err = svc.repo.GetSubmission(ctx, a.ID, caller.ID); err == nil {
		return Submission{}, ErrAlreadySubmitted
	} else if errors.Cause(err) != ErrSubmissionNotFound {
		return Submission{}, errors.Wrap(err, "finding submission")
	}

	now := svc.nowFunc()
	sub := Submission{
		AssignmentID: a.ID,
		StudentID:    caller.ID,
		Content:      ns.Content,
		FileURL:      ns.FileURL,
		SubmittedAt:  now,
		Status:       StatusSubmitted,
		IsLate:       a.IsPastDue(now),
	}
	if sub.IsLate {
		sub.Status = StatusLate
	}

	// the store's unique key settles concurrent submissions
	sub, err = svc.repo.CreateSubmission(ctx, sub)
	return sub, errors.Wrap(err, "creating submission")
}

func (svc *service) Grade(ctx context.Context, caller user.Identity, id string, gs GradeSubmission) (Submission, error) {
	if !caller.IsStaff() {
		return Submission{}, ErrStaffOnly
	}
	a, err := svc.GetByID(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	if !a.CanGrade(caller) {
		return Submission{}, core.ErrPermissionDenied
	}
	if gs.Grade == nil {
		return Submission{}, core.NewValidationError(errors.New("grade is required"), core.FieldError{Field: "grade", Error: "grade is required"})
	}
	if *gs.Grade < 0 || *gs.Grade > float64(a.TotalMarks) {
		msg := fmt.Sprintf("grade must be between 0 and %d", a.TotalMarks)
		return Submission{}, core.NewValidationError(errors.New(msg), core.FieldError{Field: "grade", Error: msg})
	}

	sub, err := svc.repo.GetSubmission(ctx, a.ID, gs.StudentID)
	if err != nil {
		return Submission{}, err
	}
	grade := *gs.Grade
	sub.Grade = &grade
	sub.Feedback = gs.Feedback
	sub.Status = StatusGraded
	sub.GradedBy = caller.ID
	sub.GradedAt = svc.nowFunc()

	sub, err = svc.repo.UpdateSubmission(ctx, sub)
	return sub, errors.Wrap(err, "grading submission")
}

func (svc *service) QuerySubmissions(ctx context.Context, caller user.Identity, statuses ...string) ([]Submission, error) {
	filter := SubmissionFilter{Statuses: statuses}
	switch {
	case caller.IsAdmin():
	case caller.IsFaculty():
		assignments, err := svc.repo.QueryAssignments(ctx, QueryFilter{FacultyID: caller.ID})
		if err != nil {
			return nil, errors.Wrap(err, "querying assignments")
		}
		if len(assignments) == 0 {
			return []Submission{}, nil
		}
		filter.AssignmentIDs = lo.Map(assignments, func(a Assignment, _ int) string { return a.ID })
	default:
		filter.StudentID = caller.ID
	}
	return svc.repo.QuerySubmissions(ctx, filter)
}
