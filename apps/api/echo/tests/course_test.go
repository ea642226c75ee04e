package tests

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/guni/lms/apps/api/echo"
	"github.com/guni/lms/core/assignment"
	"github.com/guni/lms/core/course"
	"github.com/guni/lms/core/user"
	"github.com/guni/lms/tests"
)

func Test_courseApi_query(t *testing.T) {
	env := setup(t)
	faculty := testutil.CreateUser(t, env.usrRepo, "Prof", "prof@guni.edu", pwd, user.RoleFaculty, true)

	now := time.Now()
	algo := testutil.CreateCourse(t, env.courseRepo, faculty, "Algorithms", "CS201", 40, now.Add(-3*time.Hour))
	db := testutil.CreateCourse(t, env.courseRepo, faculty, "Databases", "CS301", 40, now.Add(-2*time.Hour))
	net := testutil.CreateCourse(t, env.courseRepo, faculty, "Networks", "EC110", 40, now.Add(-1*time.Hour))

	old := testutil.CreateCourse(t, env.courseRepo, faculty, "Old Course", "CS001", 40, now.Add(-4*time.Hour))
	old.IsActive = false
	_, err := env.courseRepo.UpdateCourse(context.Background(), old)
	require.NoError(t, err)

	path := func(search, ordering string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if ordering != "" {
			v.Add("ordering", ordering)
		}
		return "/api/courses?" + v.Encode()
	}

	tests := []httpTest{
		{name: "active courses, newest first", path: "/api/courses", wantCode: http.StatusOK, wantData: marchallList(t, net, db, algo)},
		{name: "search by title", path: path("base", ""), wantCode: http.StatusOK, wantData: marchallList(t, db)},
		{name: "search by code", path: path("cs", ""), wantCode: http.StatusOK, wantData: marchallList(t, db, algo)},
		{name: "search (unknown)", path: path("lol", ""), wantCode: http.StatusOK, wantData: marchallList(t)},
		{name: "ordering=title", path: path("", "title"), wantCode: http.StatusOK, wantData: marchallList(t, algo, db, net)},
		{name: "ordering=-code", path: path("", "-code"), wantCode: http.StatusOK, wantData: marchallList(t, net, db, algo)},
		{name: "unknown ordering ignored", path: path("", "password"), wantCode: http.StatusOK, wantData: marchallList(t, net, db, algo)},
		{name: "semester=3", path: "/api/courses?semester=3", wantCode: http.StatusOK, wantData: marchallList(t)},
		{name: "malformed semester", path: "/api/courses?semester=abc", wantCode: http.StatusBadRequest},
	}
	runHTTPTests(t, env, tests)
}

func Test_courseApi_create(t *testing.T) {
	env := setup(t)
	faculty := testutil.CreateUser(t, env.usrRepo, "Prof", "prof@guni.edu", pwd, user.RoleFaculty, true)
	student := testutil.CreateUser(t, env.usrRepo, "Student", "student@guni.edu", pwd, user.RoleStudent, true)
	testutil.CreateCourse(t, env.courseRepo, faculty, "Algorithms", "CS201", 40)
	facultyToken := getToken(t, env, faculty)

	valid := []byte(`{"title": "Operating Systems", "code": " cs 310 ", "description": "Kernels", "department": "CSE", "semester": 5}`)

	tests := []httpTest{
		{name: "auth required", body: valid, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "students forbidden", body: valid, token: getToken(t, env, student), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{
			name: "missing fields", body: []byte(`{"title": "OS"}`), token: facultyToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"code":        "this field is required",
				"description": "this field is required",
				"department":  "this field is required",
				"semester":    "this field is required",
			}),
		},
		{
			name: "bad semester", token: facultyToken, wantCode: http.StatusBadRequest,
			body:     []byte(`{"title": "OS", "code": "CS310", "description": "Kernels", "department": "CSE", "semester": 9}`),
			wantData: marchallObj(t, map[string]string{"semester": "semester must be between 1 and 8"}),
		},
		{
			name: "duplicate code", token: facultyToken, wantCode: http.StatusBadRequest,
			body:     []byte(`{"title": "Algo II", "code": "cs201", "description": "More", "department": "CSE", "semester": 4}`),
			wantData: marchallObj(t, httpErr{Error: "a course with this code already exists"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/api/courses"
	}
	runHTTPTests(t, env, tests)

	t.Run("success", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/api/courses", facultyToken, valid)
		env.serve(req, rec)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var crs course.Course
		unmarshal(t, rec, &crs)
		assert.NotEmpty(t, crs.ID)
		assert.Equal(t, "CS310", crs.Code)
		assert.Equal(t, faculty.ID, crs.FacultyID)
		assert.Equal(t, course.DefaultCredits, crs.Credits)
		assert.Equal(t, course.DefaultMaxStudents, crs.MaxStudents)
		assert.True(t, crs.IsActive)
		assert.Empty(t, crs.EnrolledStudents)
	})
}

func Test_courseApi_retrieve(t *testing.T) {
	env := setup(t)
	faculty := testutil.CreateUser(t, env.usrRepo, "Prof", "prof@guni.edu", pwd, user.RoleFaculty, true)
	other := testutil.CreateUser(t, env.usrRepo, "Other", "other@guni.edu", pwd, user.RoleFaculty, true)
	student := testutil.CreateUser(t, env.usrRepo, "Student", "student@guni.edu", pwd, user.RoleStudent, true)
	crs := testutil.CreateCourse(t, env.courseRepo, faculty, "Algorithms", "CS201", 40)
	crs = testutil.Enroll(t, env.courseRepo, crs, student)

	now := time.Now()
	visible := testutil.CreateAssignment(t, env.assignmentRepo, crs, "Sorting", now.Add(24*time.Hour), true, now.Add(-time.Hour))
	hidden := testutil.CreateAssignment(t, env.assignmentRepo, crs, "Draft", now.Add(48*time.Hour), false, now)

	facultySummary := faculty.Summary()
	path := "/api/courses/" + crs.ID

	tests := []httpTest{
		{
			name: "public", path: path, wantCode: http.StatusOK,
			wantData: marchallObj(t, CourseDetailResponse{
				Detail:      course.Detail{Course: crs, Faculty: &facultySummary},
				Assignments: []assignment.Assignment{visible},
			}),
		},
		{
			name: "bad token is ignored", path: path, token: "lol", wantCode: http.StatusOK,
			wantData: marchallObj(t, CourseDetailResponse{
				Detail:      course.Detail{Course: crs, Faculty: &facultySummary},
				Assignments: []assignment.Assignment{visible},
			}),
		},
		{
			name: "other faculty", path: path, token: getToken(t, env, other), wantCode: http.StatusOK,
			wantData: marchallObj(t, CourseDetailResponse{
				Detail:      course.Detail{Course: crs, Faculty: &facultySummary},
				Assignments: []assignment.Assignment{visible},
			}),
		},
		{
			name: "owner sees roster and hidden assignments", path: path, token: getToken(t, env, faculty), wantCode: http.StatusOK,
			wantData: marchallObj(t, CourseDetailResponse{
				Detail:      course.Detail{Course: crs, Faculty: &facultySummary, Students: []user.Summary{student.Summary()}},
				Assignments: []assignment.Assignment{hidden, visible},
			}),
		},
		{name: "not found", path: "/api/courses/nope", wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "course not found"})},
	}
	runHTTPTests(t, env, tests)
}

func Test_courseApi_update(t *testing.T) {
	env := setup(t)
	faculty := testutil.CreateUser(t, env.usrRepo, "Prof", "prof@guni.edu", pwd, user.RoleFaculty, true)
	other := testutil.CreateUser(t, env.usrRepo, "Other", "other@guni.edu", pwd, user.RoleFaculty, true)
	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin@guni.edu", pwd, user.RoleAdmin, true)
	s1 := testutil.CreateUser(t, env.usrRepo, "S1", "s1@guni.edu", pwd, user.RoleStudent, true)
	s2 := testutil.CreateUser(t, env.usrRepo, "S2", "s2@guni.edu", pwd, user.RoleStudent, true)
	crs := testutil.CreateCourse(t, env.courseRepo, faculty, "Algorithms", "CS201", 40)
	testutil.CreateCourse(t, env.courseRepo, faculty, "Databases", "CS301", 40)
	crs = testutil.Enroll(t, env.courseRepo, crs, s1, s2)
	path := "/api/courses/" + crs.ID

	tests := []httpTest{
		{name: "auth required", body: []byte(`{}`), wantCode: http.StatusUnauthorized},
		{name: "students forbidden", body: []byte(`{}`), token: getToken(t, env, s1), wantCode: http.StatusForbidden},
		{
			name: "non-owner faculty", body: []byte(`{"title": "Mine now"}`), token: getToken(t, env, other),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "capacity below enrollment", body: []byte(`{"max_students": 1}`), token: getToken(t, env, faculty),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"max_students": "max_students cannot be lower than the number of enrolled students"}),
		},
		{
			name: "code taken", body: []byte(`{"code": "cs 301"}`), token: getToken(t, env, faculty),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "a course with this code already exists"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPut
		tests[i].path = path
	}
	runHTTPTests(t, env, tests)

	for _, caller := range []user.User{faculty, admin} {
		t.Run("success by "+caller.Role, func(t *testing.T) {
			body := []byte(`{"title": "Algorithms I", "max_students": 2, "schedule": {"days": ["Mon", "Wed"], "time": "10:00", "room": "B-204"}}`)
			req, rec := newAuthRequest(http.MethodPut, path, getToken(t, env, caller), body)
			env.serve(req, rec)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var updated course.Course
			unmarshal(t, rec, &updated)
			assert.Equal(t, "Algorithms I", updated.Title)
			assert.Equal(t, "CS201", updated.Code)
			assert.Equal(t, 2, updated.MaxStudents)
			assert.Equal(t, []string{"Mon", "Wed"}, updated.Schedule.Days)
			assert.Equal(t, faculty.ID, updated.FacultyID)
			assert.ElementsMatch(t, []string{s1.ID, s2.ID}, updated.EnrolledStudents)
		})
	}
}

func Test_courseApi_deactivate(t *testing.T) {
	env := setup(t)
	faculty := testutil.CreateUser(t, env.usrRepo, "Prof", "prof@guni.edu", pwd, user.RoleFaculty, true)
	other := testutil.CreateUser(t, env.usrRepo, "Other", "other@guni.edu", pwd, user.RoleFaculty, true)
	crs := testutil.CreateCourse(t, env.courseRepo, faculty, "Algorithms", "CS201", 40)
	path := "/api/courses/" + crs.ID

	tests := []httpTest{
		{name: "auth required", method: http.MethodDelete, path: path, wantCode: http.StatusUnauthorized},
		{name: "non-owner faculty", method: http.MethodDelete, path: path, token: getToken(t, env, other), wantCode: http.StatusForbidden},
		{
			name: "owner", method: http.MethodDelete, path: path, token: getToken(t, env, faculty),
			wantCode: http.StatusOK, wantData: marchallObj(t, MessageResponse{Message: "Deleted"}),
		},
		{name: "gone from catalog", path: "/api/courses", wantCode: http.StatusOK, wantData: marchallList(t)},
		{name: "hidden from public", path: path, wantCode: http.StatusNotFound},
		{name: "still visible to owner", path: path, token: getToken(t, env, faculty), wantCode: http.StatusOK},
	}
	runHTTPTests(t, env, tests)

	stored, err := env.courseRepo.GetCourse(context.Background(), crs.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func Test_courseApi_addMaterial(t *testing.T) {
	env := setup(t)
	faculty := testutil.CreateUser(t, env.usrRepo, "Prof", "prof@guni.edu", pwd, user.RoleFaculty, true)
	other := testutil.CreateUser(t, env.usrRepo, "Other", "other@guni.edu", pwd, user.RoleFaculty, true)
	crs := testutil.CreateCourse(t, env.courseRepo, faculty, "Algorithms", "CS201", 40)
	path := "/api/courses/" + crs.ID + "/materials"
	token := getToken(t, env, faculty)

	tests := []httpTest{
		{
			name: "bad kind", body: []byte(`{"title": "Slides", "kind": "gif", "url": "https://x.y/s"}`), token: token,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"kind": "kind must be one of: pdf, video, link, doc"}),
		},
		{
			name: "non-owner faculty", body: []byte(`{"title": "Slides", "kind": "pdf", "url": "https://x.y/s"}`),
			token: getToken(t, env, other), wantCode: http.StatusForbidden,
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = path
	}
	runHTTPTests(t, env, tests)

	req, rec := newAuthRequest(http.MethodPost, path, token, []byte(`{"title": " Slides ", "kind": "PDF", "url": "https://x.y/s"}`))
	env.serve(req, rec)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var updated course.Course
	unmarshal(t, rec, &updated)
	require.Len(t, updated.Materials, 1)
	assert.Equal(t, "Slides", updated.Materials[0].Title)
	assert.Equal(t, course.MaterialPDF, updated.Materials[0].Kind)
	assert.False(t, updated.Materials[0].UploadedAt.IsZero())
}

func Test_courseApi_enroll(t *testing.T) {
	env := setup(t)
	faculty := testutil.CreateUser(t, env.usrRepo, "Prof", "prof@guni.edu", pwd, user.RoleFaculty, true)
	s1 := testutil.CreateUser(t, env.usrRepo, "S1", "s1@guni.edu", pwd, user.RoleStudent, true)
	s2 := testutil.CreateUser(t, env.usrRepo, "S2", "s2@guni.edu", pwd, user.RoleStudent, true)
	crs := testutil.CreateCourse(t, env.courseRepo, faculty, "Algorithms", "CS201", 1)
	closed := testutil.CreateCourse(t, env.courseRepo, faculty, "Closed", "CS999", 10)
	closed.IsActive = false
	_, err := env.courseRepo.UpdateCourse(context.Background(), closed)
	require.NoError(t, err)

	path := func(id string) string { return "/api/courses/enroll?id=" + id }
	s1Token := getToken(t, env, s1)

	tests := []httpTest{
		{name: "auth required", path: path(crs.ID), wantCode: http.StatusUnauthorized},
		{name: "faculty forbidden", path: path(crs.ID), token: getToken(t, env, faculty), wantCode: http.StatusForbidden},
		{name: "unknown course", path: path("nope"), token: s1Token, wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "course not found"})},
		{name: "inactive course", path: path(closed.ID), token: s1Token, wantCode: http.StatusNotFound},
		{name: "missing id", path: "/api/courses/enroll", token: s1Token, wantCode: http.StatusNotFound},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
	}
	runHTTPTests(t, env, tests)

	t.Run("success", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, path(crs.ID), s1Token)
		env.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp EnrollResponse
		unmarshal(t, rec, &resp)
		assert.Equal(t, "Enrolled successfully", resp.Message)
		assert.Equal(t, []string{s1.ID}, resp.Course.EnrolledStudents)

		// both sides are updated
		usr, err := env.usrRepo.GetUser(context.Background(), user.GetFilter{ID: s1.ID})
		require.NoError(t, err)
		assert.Equal(t, []string{crs.ID}, usr.EnrolledCourses)
	})

	tests = []httpTest{
		{
			name: "already enrolled", path: path(crs.ID), token: s1Token, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "already enrolled in this course"}),
		},
		{
			name: "course full", path: path(crs.ID), token: getToken(t, env, s2), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "course is full"}),
		},
		{name: "my courses (student)", method: http.MethodGet, path: "/api/courses/my", token: s1Token, wantCode: http.StatusOK},
	}
	for i := range tests {
		if tests[i].method == "" {
			tests[i].method = http.MethodPost
		}
	}
	runHTTPTests(t, env, tests)
}

func Test_courseApi_enrollConcurrently(t *testing.T) {
	env := setup(t)
	faculty := testutil.CreateUser(t, env.usrRepo, "Prof", "prof@guni.edu", pwd, user.RoleFaculty, true)
	crs := testutil.CreateCourse(t, env.courseRepo, faculty, "Algorithms", "CS201", 3)

	const n = 10
	tokens := make([]string, n)
	for i := range tokens {
		s := testutil.CreateUser(t, env.usrRepo, "S", "s"+string(rune('a'+i))+"@guni.edu", pwd, user.RoleStudent, true)
		tokens[i] = getToken(t, env, s)
	}

	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, rec := newAuthRequest(http.MethodPost, "/api/courses/enroll?id="+crs.ID, tokens[i])
			env.serve(req, rec)
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	var ok, full int
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusBadRequest:
			full++
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, n-3, full)

	stored, err := env.courseRepo.GetCourse(context.Background(), crs.ID)
	require.NoError(t, err)
	assert.Len(t, stored.EnrolledStudents, 3)
}

func Test_courseApi_myCourses(t *testing.T) {
	env := setup(t)
	faculty := testutil.CreateUser(t, env.usrRepo, "Prof", "prof@guni.edu", pwd, user.RoleFaculty, true)
	other := testutil.CreateUser(t, env.usrRepo, "Other", "other@guni.edu", pwd, user.RoleFaculty, true)
	student := testutil.CreateUser(t, env.usrRepo, "Student", "student@guni.edu", pwd, user.RoleStudent, true)

	now := time.Now()
	algo := testutil.CreateCourse(t, env.courseRepo, faculty, "Algorithms", "CS201", 40, now.Add(-2*time.Hour))
	db := testutil.CreateCourse(t, env.courseRepo, faculty, "Databases", "CS301", 40, now.Add(-1*time.Hour))
	net := testutil.CreateCourse(t, env.courseRepo, other, "Networks", "EC110", 40)
	algo = testutil.Enroll(t, env.courseRepo, algo, student)
	net = testutil.Enroll(t, env.courseRepo, net, student)

	tests := []httpTest{
		{name: "auth required", wantCode: http.StatusUnauthorized},
		{name: "faculty: taught", token: getToken(t, env, faculty), wantCode: http.StatusOK, wantData: marchallList(t, db, algo)},
		{name: "student: enrolled", token: getToken(t, env, student), wantCode: http.StatusOK, wantData: marchallList(t, net, algo)},
	}
	for i := range tests {
		tests[i].path = "/api/courses/my"
	}
	runHTTPTests(t, env, tests)
}
