package tests

import (
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guni/lms/core/user"
	"github.com/guni/lms/tests"
)

func Test_userApi_query(t *testing.T) {
	env := setup(t)

	path := func(search, ordering string, isActive *bool, roles ...string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if ordering != "" {
			v.Add("ordering", ordering)
		}
		if isActive != nil {
			v.Add("is_active", strconv.FormatBool(*isActive))
		}
		for _, r := range roles {
			v.Add("role", r)
		}
		return "/api/users?" + v.Encode()
	}
	bPtr := func(b bool) *bool { return &b }

	now := time.Now()
	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin@guni.edu", pwd, user.RoleAdmin, true, now.Add(-5*time.Hour))
	faculty := testutil.CreateUser(t, env.usrRepo, "Zed Prof", "zed@guni.edu", pwd, user.RoleFaculty, true, now.Add(-4*time.Hour))
	amy := testutil.CreateUser(t, env.usrRepo, "Amy", "amy@guni.edu", pwd, user.RoleStudent, true, now.Add(-3*time.Hour))
	bob := testutil.CreateUser(t, env.usrRepo, "Bob", "bob@guni.edu", pwd, user.RoleStudent, true, now.Add(-2*time.Hour))
	naughty := testutil.CreateUser(t, env.usrRepo, "N Dog", "ndog@guni.edu", pwd, user.RoleStudent, false, now.Add(-time.Hour))

	adminToken := getToken(t, env, admin)

	tests := []httpTest{
		{name: "auth required", path: "/api/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "admin required", path: "/api/users", token: getToken(t, env, faculty), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "all, newest first", path: "/api/users", token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t, naughty, bob, amy, faculty, admin)},
		{name: "search (unknown)", path: path("lol", "", nil), token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t)},
		{name: "search=AM", path: path("AM", "", nil), token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t, amy)},
		{name: "search enrollment id", path: path(bob.EnrollmentID, "", nil), token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t, bob)},
		{name: "role=faculty", path: path("", "", nil, user.RoleFaculty), token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t, faculty)},
		{
			name: "role=faculty,admin", path: path("", "", nil, user.RoleFaculty, user.RoleAdmin), token: adminToken,
			wantCode: http.StatusOK, wantData: marchallList(t, faculty, admin),
		},
		{name: "is_active=false", path: path("", "", bPtr(false)), token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t, naughty)},
		{
			name: "ordering=name", path: path("", "name", nil), token: adminToken,
			wantCode: http.StatusOK, wantData: marchallList(t, admin, amy, bob, naughty, faculty),
		},
		{
			name: "students by -name", path: path("", "-name", bPtr(true), user.RoleStudent), token: adminToken,
			wantCode: http.StatusOK, wantData: marchallList(t, bob, amy),
		},
		{name: "malformed is_active", path: "/api/users?is_active=maybe", token: adminToken, wantCode: http.StatusBadRequest},
	}
	runHTTPTests(t, env, tests)
}

func Test_userApi_queryRoles(t *testing.T) {
	env := setup(t)
	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin@guni.edu", pwd, user.RoleAdmin, true)

	tests := []httpTest{
		{name: "auth required", wantCode: http.StatusUnauthorized},
		{name: "success", token: getToken(t, env, admin), wantCode: http.StatusOK, wantData: marchallObj(t, user.Roles)},
	}
	for i := range tests {
		tests[i].path = "/api/users/roles"
	}
	runHTTPTests(t, env, tests)
}

func Test_userApi_adminUpdate(t *testing.T) {
	env := setup(t)
	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin@guni.edu", pwd, user.RoleAdmin, true)
	faculty := testutil.CreateUser(t, env.usrRepo, "Prof", "prof@guni.edu", pwd, user.RoleFaculty, true)
	student := testutil.CreateUser(t, env.usrRepo, "Student", "student@guni.edu", pwd, user.RoleStudent, true)
	adminToken := getToken(t, env, admin)

	tests := []httpTest{
		{name: "auth required", path: "/api/users/" + student.ID, body: []byte(`{}`), wantCode: http.StatusUnauthorized},
		{name: "admin required", path: "/api/users/" + student.ID, body: []byte(`{}`), token: getToken(t, env, faculty), wantCode: http.StatusForbidden},
		{
			name: "unknown role", path: "/api/users/" + faculty.ID, body: []byte(`{"role": "dean"}`), token: adminToken,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"role": "invalid role"}),
		},
		{
			name: "student role is fixed", path: "/api/users/" + student.ID, body: []byte(`{"role": "faculty"}`), token: adminToken,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"role": "student accounts cannot change role"}),
		},
		{name: "cannot lock self out", path: "/api/users/" + admin.ID, body: []byte(`{"is_active": false}`), token: adminToken, wantCode: http.StatusForbidden},
		{name: "not found", path: "/api/users/nope", body: []byte(`{"is_active": false}`), token: adminToken, wantCode: http.StatusNotFound},
	}
	for i := range tests {
		tests[i].method = http.MethodPut
	}
	runHTTPTests(t, env, tests)

	t.Run("promote faculty", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/api/users/"+faculty.ID, adminToken, []byte(`{"role": "admin"}`))
		env.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var usr user.User
		unmarshal(t, rec, &usr)
		assert.Equal(t, user.RoleAdmin, usr.Role)
	})

	t.Run("deactivate student", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/api/users/"+student.ID, adminToken, []byte(`{"is_active": false}`))
		env.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		// the student can no longer log in
		req, rec = newRequest(http.MethodPost, "/api/auth/login", []byte(`{"email": "student@guni.edu", "password": "`+pwd+`"}`))
		env.serve(req, rec)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
