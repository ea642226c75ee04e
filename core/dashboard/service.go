// Package dashboard computes the per-role counters shown on the LMS home page.
package dashboard

import (
	"context"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/assignment"
	"github.com/guni/lms/core/course"
	"github.com/guni/lms/core/user"
)

type Summary struct {
	Role                string `json:"role"`
	Courses             int    `json:"courses"`
	Assignments         int    `json:"assignments"`
	PendingAssignments  int    `json:"pending_assignments,omitempty"`
	Submitted           int    `json:"submitted,omitempty"`
	Graded              int    `json:"graded,omitempty"`
	UngradedSubmissions int    `json:"ungraded_submissions,omitempty"`
}

type Service struct {
	courseSvc     course.Service
	assignmentSvc assignment.Service
	nowFunc       func() time.Time
}

func NewService(courseSvc course.Service, assignmentSvc assignment.Service) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(courseSvc, "courseSvc"),
		vala.IsNotNil(assignmentSvc, "assignmentSvc"),
	).CheckAndPanic()

	return &Service{courseSvc: courseSvc, assignmentSvc: assignmentSvc, nowFunc: core.NowFunc}
}

func (svc *Service) Summary(ctx context.Context, caller user.Identity) (Summary, error) {
	sum := Summary{Role: caller.Role}

	var courses []course.Course
	var err error
	if caller.IsAdmin() {
		courses, err = svc.courseSvc.Query(ctx, nil, nil)
	} else {
		courses, err = svc.courseSvc.MyCourses(ctx, caller)
	}
	if err != nil {
		return Summary{}, errors.Wrap(err, "querying courses")
	}
	sum.Courses = len(courses)

	assignments, err := svc.assignmentSvc.Query(ctx, caller)
	if err != nil {
		return Summary{}, errors.Wrap(err, "querying assignments")
	}
	sum.Assignments = len(assignments)

	submissions, err := svc.assignmentSvc.QuerySubmissions(ctx, caller)
	if err != nil {
		return Summary{}, errors.Wrap(err, "querying submissions")
	}

	if caller.IsStudent() {
		submitted := lo.SliceToMap(submissions, func(s assignment.Submission) (string, bool) {
			return s.AssignmentID, true
		})
		now := svc.nowFunc()
		sum.PendingAssignments = lo.CountBy(assignments, func(a assignment.Assignment) bool {
			return !submitted[a.ID] && !a.IsPastDue(now)
		})
		sum.Submitted = len(submissions)
		sum.Graded = lo.CountBy(submissions, assignment.Submission.IsGraded)
		return sum, nil
	}

	sum.UngradedSubmissions = lo.CountBy(submissions, func(s assignment.Submission) bool { return !s.IsGraded() })
	return sum, nil
}
