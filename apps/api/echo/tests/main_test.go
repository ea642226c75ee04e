package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/guni/lms/apps/api/echo"
	"github.com/guni/lms/core"
	"github.com/guni/lms/core/assignment"
	"github.com/guni/lms/core/course"
	"github.com/guni/lms/core/dashboard"
	"github.com/guni/lms/core/session"
	"github.com/guni/lms/core/user"
	"github.com/guni/lms/services/email"
	"github.com/guni/lms/services/logger"
	"github.com/guni/lms/services/metrics"
	"github.com/guni/lms/storage/database/inmem"
)

var (
	errMissingToken = httpErr{Error: "not authenticated"}
	errBadToken     = httpErr{Error: "invalid or expired token"}
	errForbidden    = httpErr{Error: "permission denied"}
)

type testEnv struct {
	app            *Server
	gate           *session.Gate
	mailSvc        *emailsvc.ConsoleServiceMock
	metrics        *metrics.Collector
	usrRepo        user.Repository
	courseRepo     course.Repository
	assignmentRepo assignment.Repository
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)

	// set up DB & repos
	db := inmemdb.Open()
	env := &testEnv{
		gate:           session.NewGate(conf),
		mailSvc:        emailsvc.NewConsoleServiceMock(conf, logger),
		metrics:        metrics.New("lms_test"),
		usrRepo:        inmemdb.NewUserRepository(db),
		courseRepo:     inmemdb.NewCourseRepository(db),
		assignmentRepo: inmemdb.NewAssignmentRepository(db),
	}

	// set up services
	usrSvc := user.NewService(env.usrRepo, env.mailSvc, conf)
	courseSvc := course.NewService(env.courseRepo, usrSvc, conf)
	assignmentSvc := assignment.NewService(env.assignmentRepo, courseSvc, usrSvc, env.mailSvc, conf)

	translator := core.NewTranslator()

	// set up server
	env.app = NewServer(ServerDeps{
		Conf:           conf,
		Logger:         logger,
		Validate:       NewValidator(translator),
		Translator:     translator,
		Gate:           env.gate,
		Metrics:        env.metrics,
		UserSvc:        usrSvc,
		CourseSvc:      courseSvc,
		AssignmentSvc:  assignmentSvc,
		DashboardSvc:   dashboard.NewService(courseSvc, assignmentSvc),
		DisableReqLogs: true,
	})
	return env
}

func (env *testEnv) serve(req *http.Request, rec *httptest.ResponseRecorder) {
	env.app.ServeHTTP(rec, req)
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, env *testEnv, usr user.User) string {
	token, err := env.gate.Issue(usr)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v; body %s", err, rec.Body.String())
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	assert.Equal(t, tt.wantCode, rec.Code, "code; body %s", rec.Body.String())
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

// eventCount reads back a workflow event counter.
func eventCount(t *testing.T, env *testEnv, event string) float64 {
	families, err := env.metrics.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "lms_test_workflow_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lbl := range m.GetLabel() {
				if lbl.GetName() == "event" && lbl.GetValue() == event {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func runHTTPTests(t *testing.T, env *testEnv, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
			env.serve(req, rec)
			checkCodeAndData(t, tt, rec)
		})
	}
}
