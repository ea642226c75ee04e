package course_test

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/course"
	"github.com/guni/lms/core/user"
	emailsvc "github.com/guni/lms/services/email"
	logsvc "github.com/guni/lms/services/logger"
	inmemdb "github.com/guni/lms/storage/database/inmem"
	testutil "github.com/guni/lms/tests"
)

const pwd = "Zq8#wmvK!y"

var frozen = time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC)

type env struct {
	svc        course.Service
	usrRepo    user.Repository
	courseRepo course.Repository
	conf       *core.Config

	admin, faculty, otherFaculty, student user.User
}

func setup(t *testing.T) env {
	t.Helper()
	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	courseRepo := inmemdb.NewCourseRepository(db)
	usrSvc := user.NewService(usrRepo, emailsvc.NewConsoleServiceMock(conf, logger), conf)
	svc := course.NewService(courseRepo, usrSvc, conf)
	course.SetNowFunc(svc, func() time.Time { return frozen })

	return env{
		svc:          svc,
		usrRepo:      usrRepo,
		courseRepo:   courseRepo,
		conf:         conf,
		admin:        testutil.CreateUser(t, usrRepo, "Root", "root@guni.edu", pwd, user.RoleAdmin, true),
		faculty:      testutil.CreateUser(t, usrRepo, "Prof Smith", "smith@guni.edu", pwd, user.RoleFaculty, true),
		otherFaculty: testutil.CreateUser(t, usrRepo, "Prof Jones", "jones@guni.edu", pwd, user.RoleFaculty, true),
		student:      testutil.CreateUser(t, usrRepo, "Jane Doe", "jane@guni.edu", pwd, user.RoleStudent, true),
	}
}

func TestService_Create(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	nc := course.NewCourse{Title: "Data Structures", Code: "CS201", Description: "Trees", Department: "Computer Science", Semester: 3}

	_, err := e.svc.Create(ctx, e.student.Identity(), nc)
	assert.ErrorIs(t, err, course.ErrStaffOnly)

	crs, err := e.svc.Create(ctx, e.faculty.Identity(), nc)
	require.NoError(t, err)
	assert.Equal(t, e.faculty.ID, crs.FacultyID)
	assert.Equal(t, course.DefaultCredits, crs.Credits)
	assert.Equal(t, course.DefaultMaxStudents, crs.MaxStudents)
	assert.Equal(t, e.conf.AcademicYear, crs.AcademicYear)
	assert.True(t, crs.IsActive)
	assert.Empty(t, crs.EnrolledStudents)
	assert.Equal(t, frozen, crs.CreatedAt)

	_, err = e.svc.Create(ctx, e.admin.Identity(), nc)
	assert.ErrorIs(t, err, course.ErrCodeExists)
}

func TestService_Update(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	crs := testutil.CreateCourse(t, e.courseRepo, e.faculty, "Data Structures", "CS201", 3)
	testutil.CreateCourse(t, e.courseRepo, e.faculty, "Algorithms", "CS301", 3)
	crs = testutil.Enroll(t, e.courseRepo, crs, e.student)

	ptr := func(s string) *string { return &s }
	intPtr := func(i int) *int { return &i }

	tests := []struct {
		name    string
		caller  user.Identity
		id      string
		uc      course.UpdateCourse
		wantErr error
	}{
		{name: "student", caller: e.student.Identity(), id: crs.ID, uc: course.UpdateCourse{Title: ptr("X")}, wantErr: course.ErrStaffOnly},
		{name: "not the owner", caller: e.otherFaculty.Identity(), id: crs.ID, uc: course.UpdateCourse{Title: ptr("X")}, wantErr: core.ErrPermissionDenied},
		{name: "unknown course", caller: e.admin.Identity(), id: "missing", uc: course.UpdateCourse{Title: ptr("X")}, wantErr: course.ErrNotFound},
		{name: "code taken", caller: e.faculty.Identity(), id: crs.ID, uc: course.UpdateCourse{Code: ptr("CS301")}, wantErr: course.ErrCodeExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Update(ctx, tt.caller, tt.id, tt.uc)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("capacity below enrollment", func(t *testing.T) {
		_, err := e.svc.Update(ctx, e.faculty.Identity(), crs.ID, course.UpdateCourse{MaxStudents: intPtr(0)})
		var verr *core.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("partial update by admin", func(t *testing.T) {
		updated, err := e.svc.Update(ctx, e.admin.Identity(), crs.ID, course.UpdateCourse{
			Title:       ptr("Advanced Data Structures"),
			MaxStudents: intPtr(1),
			Schedule:    &course.Schedule{Days: []string{"Tue"}, Time: "14:00", Room: "A-1"},
		})
		require.NoError(t, err)
		assert.Equal(t, "Advanced Data Structures", updated.Title)
		assert.Equal(t, 1, updated.MaxStudents)
		assert.Equal(t, "A-1", updated.Schedule.Room)
		assert.Equal(t, crs.Code, updated.Code)
		assert.Equal(t, crs.Description, updated.Description)
		assert.Equal(t, crs.FacultyID, updated.FacultyID)
		assert.Equal(t, []string{e.student.ID}, updated.EnrolledStudents)
		assert.Equal(t, frozen, updated.UpdatedAt)
	})
}

func TestService_Deactivate(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	crs := testutil.CreateCourse(t, e.courseRepo, e.faculty, "Data Structures", "CS201", 3)

	_, err := e.svc.Deactivate(ctx, e.otherFaculty.Identity(), crs.ID)
	assert.ErrorIs(t, err, core.ErrPermissionDenied)

	for i := 0; i < 2; i++ {
		got, err := e.svc.Deactivate(ctx, e.faculty.Identity(), crs.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)
	}

	courses, err := e.svc.Query(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, courses)

	_, err = e.svc.Detail(ctx, e.student.Identity(), crs.ID)
	assert.ErrorIs(t, err, course.ErrNotFound)
	detail, err := e.svc.Detail(ctx, e.faculty.Identity(), crs.ID)
	require.NoError(t, err)
	assert.Equal(t, crs.ID, detail.Course.ID)
}

func TestService_Detail(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	crs := testutil.CreateCourse(t, e.courseRepo, e.faculty, "Data Structures", "CS201", 3)
	crs = testutil.Enroll(t, e.courseRepo, crs, e.student)

	public, err := e.svc.Detail(ctx, user.Identity{}, crs.ID)
	require.NoError(t, err)
	require.NotNil(t, public.Faculty)
	assert.Equal(t, e.faculty.Name, public.Faculty.Name)
	assert.Nil(t, public.Students)

	owner, err := e.svc.Detail(ctx, e.faculty.Identity(), crs.ID)
	require.NoError(t, err)
	require.Len(t, owner.Students, 1)
	assert.Equal(t, e.student.EnrollmentID, owner.Students[0].EnrollmentID)
}

func TestService_AddMaterial(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	crs := testutil.CreateCourse(t, e.courseRepo, e.faculty, "Data Structures", "CS201", 3)
	m := course.Material{Title: "Syllabus", Kind: course.MaterialPDF, URL: "https://files.guni.edu/cs201.pdf"}

	_, err := e.svc.AddMaterial(ctx, e.otherFaculty.Identity(), crs.ID, m)
	assert.ErrorIs(t, err, core.ErrPermissionDenied)

	got, err := e.svc.AddMaterial(ctx, e.faculty.Identity(), crs.ID, m)
	require.NoError(t, err)
	require.Len(t, got.Materials, 1)
	assert.Equal(t, frozen, got.Materials[0].UploadedAt)
	assert.Equal(t, "Syllabus", got.Materials[0].Title)
}

func TestService_Enroll(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	crs := testutil.CreateCourse(t, e.courseRepo, e.faculty, "Data Structures", "CS201", 1)
	other := testutil.CreateUser(t, e.usrRepo, "John Roe", "john@guni.edu", pwd, user.RoleStudent, true)

	_, err := e.svc.Enroll(ctx, e.faculty.Identity(), crs.ID)
	assert.ErrorIs(t, err, course.ErrStudentsOnly)

	_, err = e.svc.Enroll(ctx, e.student.Identity(), "")
	assert.ErrorIs(t, err, course.ErrNotFound)

	got, err := e.svc.Enroll(ctx, e.student.Identity(), crs.ID)
	require.NoError(t, err)
	assert.True(t, got.HasStudent(e.student.ID))
	assert.True(t, got.IsFull())

	_, err = e.svc.Enroll(ctx, e.student.Identity(), crs.ID)
	assert.ErrorIs(t, err, course.ErrAlreadyEnrolled)

	_, err = e.svc.Enroll(ctx, other.Identity(), crs.ID)
	assert.ErrorIs(t, err, course.ErrCourseFull)

	stu, err := e.usrRepo.GetUser(ctx, user.GetFilter{ID: e.student.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{crs.ID}, stu.EnrolledCourses)

	mine, err := e.svc.MyCourses(ctx, e.student.Identity())
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, crs.ID, mine[0].ID)

	taught, err := e.svc.MyCourses(ctx, e.faculty.Identity())
	require.NoError(t, err)
	assert.Len(t, taught, 1)
}

func TestService_Enroll_concurrent(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	crs := testutil.CreateCourse(t, e.courseRepo, e.faculty, "Data Structures", "CS201", 3)

	students := make([]user.User, 10)
	for i := range students {
		students[i] = testutil.CreateUser(t, e.usrRepo, "Student", "s"+string(rune('a'+i))+"@guni.edu", pwd, user.RoleStudent, true)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		enrolled int
	)
	for _, s := range students {
		wg.Add(1)
		go func(s user.User) {
			defer wg.Done()
			if _, err := e.svc.Enroll(ctx, s.Identity(), crs.ID); err == nil {
				mu.Lock()
				enrolled++
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	got, err := e.svc.GetByID(ctx, crs.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, enrolled)
	assert.Len(t, got.EnrolledStudents, 3)
}
