package assignment_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/assignment"
	"github.com/guni/lms/core/course"
	"github.com/guni/lms/core/user"
	emailsvc "github.com/guni/lms/services/email"
	logsvc "github.com/guni/lms/services/logger"
	inmemdb "github.com/guni/lms/storage/database/inmem"
	testutil "github.com/guni/lms/tests"
)

const pwd = "Zq8#wmvK!y"

type env struct {
	svc     assignment.Service
	repo    assignment.Repository
	crsRepo course.Repository
	mailSvc *emailsvc.ConsoleServiceMock
	now     time.Time

	admin, faculty, otherFaculty, student, outsider user.User
	crs                                             course.Course
}

// setNow moves the frozen clock of the assignment service.
func (e *env) setNow(now time.Time) { e.now = now }

func setup(t *testing.T) *env {
	t.Helper()
	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	courseRepo := inmemdb.NewCourseRepository(db)
	repo := inmemdb.NewAssignmentRepository(db)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)

	usrSvc := user.NewService(usrRepo, mailSvc, conf)
	courseSvc := course.NewService(courseRepo, usrSvc, conf)
	svc := assignment.NewService(repo, courseSvc, usrSvc, mailSvc, conf)

	e := &env{
		svc:          svc,
		repo:         repo,
		crsRepo:      courseRepo,
		mailSvc:      mailSvc,
		now:          time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC),
		admin:        testutil.CreateUser(t, usrRepo, "Root", "root@guni.edu", pwd, user.RoleAdmin, true),
		faculty:      testutil.CreateUser(t, usrRepo, "Prof Smith", "smith@guni.edu", pwd, user.RoleFaculty, true),
		otherFaculty: testutil.CreateUser(t, usrRepo, "Prof Jones", "jones@guni.edu", pwd, user.RoleFaculty, true),
		student:      testutil.CreateUser(t, usrRepo, "Jane Doe", "jane@guni.edu", pwd, user.RoleStudent, true),
		outsider:     testutil.CreateUser(t, usrRepo, "John Roe", "john@guni.edu", pwd, user.RoleStudent, true),
	}
	assignment.SetNowFunc(svc, func() time.Time { return e.now })

	e.crs = testutil.CreateCourse(t, courseRepo, e.faculty, "Data Structures", "CS201", 10)
	e.crs = testutil.Enroll(t, courseRepo, e.crs, e.student)
	return e
}

func TestService_Create(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	na := assignment.NewAssignment{Title: "Trees", Description: "Balance them", CourseID: e.crs.ID, DueDate: e.now.Add(48 * time.Hour)}

	_, err := e.svc.Create(ctx, e.student.Identity(), na)
	assert.ErrorIs(t, err, assignment.ErrStaffOnly)

	_, err = e.svc.Create(ctx, e.otherFaculty.Identity(), na)
	assert.ErrorIs(t, err, core.ErrPermissionDenied)

	unknown := na
	unknown.CourseID = "missing"
	_, err = e.svc.Create(ctx, e.faculty.Identity(), unknown)
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "course_id", verr.Fields[0].Field)

	a, err := e.svc.Create(ctx, e.admin.Identity(), na)
	require.NoError(t, err)
	assert.Equal(t, e.faculty.ID, a.FacultyID)
	assert.Equal(t, assignment.DefaultTotalMarks, a.TotalMarks)
	assert.Equal(t, assignment.KindAssignment, a.Kind)
	assert.True(t, a.IsVisible)

	sent := e.mailSvc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "new_assignment", sent[0].TemplateName)
	assert.Equal(t, e.student.Email, sent[0].To[0].Address)

	hidden := false
	na.IsVisible = &hidden
	e.mailSvc.Reset()
	_, err = e.svc.Create(ctx, e.faculty.Identity(), na)
	require.NoError(t, err)
	assert.Empty(t, e.mailSvc.SentMessages())
}

func TestService_Query(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	visible := testutil.CreateAssignment(t, e.repo, e.crs, "Visible", e.now.Add(time.Hour), true)
	testutil.CreateAssignment(t, e.repo, e.crs, "Draft", e.now.Add(time.Hour), false, e.now.Add(time.Minute))

	tests := []struct {
		name   string
		caller user.Identity
		want   int
	}{
		{name: "enrolled student sees visible only", caller: e.student.Identity(), want: 1},
		{name: "student without courses", caller: e.outsider.Identity(), want: 0},
		{name: "owner", caller: e.faculty.Identity(), want: 2},
		{name: "other faculty", caller: e.otherFaculty.Identity(), want: 0},
		{name: "admin", caller: e.admin.Identity(), want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.svc.Query(ctx, tt.caller)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}

	got, err := e.svc.QueryByCourse(ctx, user.Identity{}, e.crs)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, visible.ID, got[0].ID)
}

func TestService_Submit(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	due := e.now.Add(time.Hour)
	a := testutil.CreateAssignment(t, e.repo, e.crs, "Trees", due, true)
	hidden := testutil.CreateAssignment(t, e.repo, e.crs, "Draft", due, false)
	ns := assignment.NewSubmission{Content: "my answer"}

	_, err := e.svc.Submit(ctx, e.faculty.Identity(), a.ID, ns)
	assert.ErrorIs(t, err, assignment.ErrStudentsOnly)

	_, err = e.svc.Submit(ctx, e.outsider.Identity(), a.ID, ns)
	assert.ErrorIs(t, err, assignment.ErrNotEnrolled)

	_, err = e.svc.Submit(ctx, e.student.Identity(), hidden.ID, ns)
	assert.ErrorIs(t, err, assignment.ErrNotFound)

	e.setNow(a.DueDate) // exactly on time
	sub, err := e.svc.Submit(ctx, e.student.Identity(), a.ID, ns)
	require.NoError(t, err)
	assert.False(t, sub.IsLate)
	assert.Equal(t, assignment.StatusSubmitted, sub.Status)
	assert.Equal(t, a.DueDate, sub.SubmittedAt)

	_, err = e.svc.Submit(ctx, e.student.Identity(), a.ID, ns)
	assert.ErrorIs(t, err, assignment.ErrAlreadySubmitted)
}

func TestService_Submit_late(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	a := testutil.CreateAssignment(t, e.repo, e.crs, "Trees", e.now.Add(time.Hour), true)

	e.setNow(a.DueDate.Add(time.Millisecond))
	sub, err := e.svc.Submit(ctx, e.student.Identity(), a.ID, assignment.NewSubmission{FileURL: "https://files.guni.edu/trees.zip"})
	require.NoError(t, err)
	assert.True(t, sub.IsLate)
	assert.Equal(t, assignment.StatusLate, sub.Status)
}

func TestService_Submit_inactiveCourse(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	a := testutil.CreateAssignment(t, e.repo, e.crs, "Trees", e.now.Add(time.Hour), true)

	crs := e.crs
	crs.IsActive = false
	_, err := e.crsRepo.UpdateCourse(ctx, crs)
	require.NoError(t, err)

	_, err = e.svc.Submit(ctx, e.student.Identity(), a.ID, assignment.NewSubmission{Content: "my answer"})
	assert.ErrorIs(t, err, assignment.ErrNotFound)

	_, err = e.svc.Detail(ctx, e.student.Identity(), a.ID)
	assert.ErrorIs(t, err, assignment.ErrNotFound)

	subs, err := e.svc.QuerySubmissions(ctx, e.admin.Identity())
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestService_Submit_keepsContent(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	a := testutil.CreateAssignment(t, e.repo, e.crs, "Trees", e.now.Add(time.Hour), true)
	content := "def insert(node):\n    if node is None:\n        return Leaf()\n"

	sub, err := e.svc.Submit(ctx, e.student.Identity(), a.ID, assignment.NewSubmission{Content: content})
	require.NoError(t, err)
	assert.Equal(t, content, sub.Content)

	got, err := e.repo.GetSubmission(ctx, a.ID, e.student.ID)
	require.NoError(t, err)
	assert.Equal(t, content, got.Content)
}

func TestService_Grade(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	a := testutil.CreateAssignment(t, e.repo, e.crs, "Trees", e.now.Add(-time.Hour), true)
	_, err := e.svc.Submit(ctx, e.student.Identity(), a.ID, assignment.NewSubmission{Content: "late answer"})
	require.NoError(t, err)

	grade := func(g float64) *float64 { return &g }
	feedback := "  Good.\n\n  Fix the rotation in insert.\n"
	tests := []struct {
		name    string
		caller  user.Identity
		gs      assignment.GradeSubmission
		wantErr error
		wantVal bool
	}{
		{name: "student", caller: e.student.Identity(), gs: assignment.GradeSubmission{StudentID: e.student.ID, Grade: grade(90)}, wantErr: assignment.ErrStaffOnly},
		{name: "other faculty", caller: e.otherFaculty.Identity(), gs: assignment.GradeSubmission{StudentID: e.student.ID, Grade: grade(90)}, wantErr: core.ErrPermissionDenied},
		{name: "missing grade", caller: e.faculty.Identity(), gs: assignment.GradeSubmission{StudentID: e.student.ID}, wantVal: true},
		{name: "above total marks", caller: e.faculty.Identity(), gs: assignment.GradeSubmission{StudentID: e.student.ID, Grade: grade(100.5)}, wantVal: true},
		{name: "no submission", caller: e.faculty.Identity(), gs: assignment.GradeSubmission{StudentID: e.outsider.ID, Grade: grade(50)}, wantErr: assignment.ErrSubmissionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Grade(ctx, tt.caller, a.ID, tt.gs)
			if tt.wantVal {
				var verr *core.ValidationError
				assert.ErrorAs(t, err, &verr)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	sub, err := e.svc.Grade(ctx, e.admin.Identity(), a.ID, assignment.GradeSubmission{StudentID: e.student.ID, Grade: grade(87.5), Feedback: feedback})
	require.NoError(t, err)
	assert.Equal(t, assignment.StatusGraded, sub.Status)
	assert.True(t, sub.IsLate)
	require.NotNil(t, sub.Grade)
	assert.Equal(t, 87.5, *sub.Grade)
	assert.Equal(t, e.admin.ID, sub.GradedBy)
	assert.Equal(t, e.now, sub.GradedAt)
	assert.Equal(t, feedback, sub.Feedback)

	detail, err := e.svc.Detail(ctx, e.student.Identity(), a.ID)
	require.NoError(t, err)
	require.Len(t, detail.Submissions, 1)
	assert.Equal(t, feedback, detail.Submissions[0].Feedback)
}

func TestService_QuerySubmissions(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	a := testutil.CreateAssignment(t, e.repo, e.crs, "Trees", e.now.Add(time.Hour), true)
	_, err := e.svc.Submit(ctx, e.student.Identity(), a.ID, assignment.NewSubmission{Content: "answer"})
	require.NoError(t, err)

	for caller, want := range map[*user.User]int{&e.student: 1, &e.outsider: 0, &e.faculty: 1, &e.otherFaculty: 0, &e.admin: 1} {
		subs, err := e.svc.QuerySubmissions(ctx, caller.Identity())
		require.NoError(t, err)
		assert.Len(t, subs, want, caller.Email)
	}

	graded, err := e.svc.QuerySubmissions(ctx, e.admin.Identity(), assignment.StatusGraded)
	require.NoError(t, err)
	assert.Empty(t, graded)
}
