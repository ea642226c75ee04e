package inmemdb

import (
	"cmp"
	"context"
	"strings"
	"time"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/course"
	"github.com/guni/lms/core/user"
)

type courseRepository struct {
	db *DB
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *DB) *courseRepository {
	return &courseRepository{db: db}
}

func copyCourse(crs *course.Course) course.Course {
	c := *crs
	c.EnrolledStudents = cloneStrings(crs.EnrolledStudents)
	c.Materials = make([]course.Material, len(crs.Materials))
	copy(c.Materials, crs.Materials)
	c.Schedule.Days = cloneStrings(crs.Schedule.Days)
	return c
}

func (repo *courseRepository) codeTaken(code string, excludedIDs []string) bool {
	for _, crs := range repo.db.courses {
		if crs.Code == code && !contains(excludedIDs, crs.ID) {
			return true
		}
	}
	return false
}

func (repo *courseRepository) CheckCodeUniqueness(_ context.Context, code string, excludedIDs ...string) error {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if repo.codeTaken(code, excludedIDs) {
		return course.ErrCodeExists
	}
	return nil
}

func (repo *courseRepository) CreateCourse(_ context.Context, crs course.Course) (course.Course, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if repo.codeTaken(crs.Code, nil) {
		return course.Course{}, course.ErrCodeExists
	}
	crs.ID = newID()
	stored := copyCourse(&crs)
	repo.db.courses[crs.ID] = &stored
	return copyCourse(&stored), nil
}

func (repo *courseRepository) GetCourse(_ context.Context, id string) (course.Course, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if crs, ok := repo.db.courses[id]; ok {
		return copyCourse(crs), nil
	}
	return course.Course{}, course.ErrNotFound
}

func (repo *courseRepository) match(crs *course.Course, filter *course.QueryFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Search != "" && !(containsFold(crs.Title, filter.Search) || containsFold(crs.Code, filter.Search)) {
		return false
	}
	if filter.Semester != 0 && crs.Semester != filter.Semester {
		return false
	}
	if filter.Department != "" && crs.Department != filter.Department {
		return false
	}
	if filter.IsActive != nil && crs.IsActive != *filter.IsActive {
		return false
	}
	if filter.FacultyID != "" && crs.FacultyID != filter.FacultyID {
		return false
	}
	if filter.StudentID != "" && !contains(crs.EnrolledStudents, filter.StudentID) {
		return false
	}
	if filter.IDs != nil && !contains(filter.IDs, crs.ID) {
		return false
	}
	return true
}

func compareCourses(field string, a, b course.Course) int {
	switch field {
	case "title":
		return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	case "code":
		return strings.Compare(a.Code, b.Code)
	case "semester":
		return cmp.Compare(a.Semester, b.Semester)
	case "created_at":
		return a.CreatedAt.Compare(b.CreatedAt)
	case "id":
		return cmp.Compare(a.ID, b.ID)
	}
	return 0
}

func (repo *courseRepository) QueryCourses(_ context.Context, filter *course.QueryFilter, ordering []core.DBOrdering) ([]course.Course, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	courses := make([]course.Course, 0)
	for _, crs := range repo.db.courses {
		if repo.match(crs, filter) {
			courses = append(courses, copyCourse(crs))
		}
	}
	if len(ordering) == 0 {
		ordering = course.DefaultOrdering
	}
	sortByOrdering(courses, withTiebreak(ordering), compareCourses)
	return courses, nil
}

func (repo *courseRepository) UpdateCourse(_ context.Context, crs course.Course) (course.Course, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	orig, ok := repo.db.courses[crs.ID]
	if !ok {
		return course.Course{}, course.ErrNotFound
	}
	if crs.Code != orig.Code && repo.codeTaken(crs.Code, []string{crs.ID}) {
		return course.Course{}, course.ErrCodeExists
	}

	crs.FacultyID = orig.FacultyID
	crs.EnrolledStudents = orig.EnrolledStudents
	crs.Materials = orig.Materials
	crs.CreatedAt = orig.CreatedAt
	stored := copyCourse(&crs)
	repo.db.courses[crs.ID] = &stored
	return copyCourse(&stored), nil
}

func (repo *courseRepository) AddMaterial(_ context.Context, courseID string, m course.Material, now time.Time) (course.Course, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	crs, ok := repo.db.courses[courseID]
	if !ok {
		return course.Course{}, course.ErrNotFound
	}
	crs.Materials = append(crs.Materials, m)
	crs.UpdatedAt = now
	return copyCourse(crs), nil
}

func (repo *courseRepository) Enroll(_ context.Context, courseID, studentID string, now time.Time) (course.Course, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	crs, ok := repo.db.courses[courseID]
	if !ok || !crs.IsActive {
		return course.Course{}, course.ErrNotFound
	}
	usr, ok := repo.db.users[studentID]
	if !ok {
		return course.Course{}, user.ErrNotFound
	}
	if crs.HasStudent(studentID) {
		return course.Course{}, course.ErrAlreadyEnrolled
	}
	if crs.IsFull() {
		return course.Course{}, course.ErrCourseFull
	}

	crs.EnrolledStudents = append(crs.EnrolledStudents, studentID)
	crs.UpdatedAt = now
	if !usr.IsEnrolledIn(courseID) {
		usr.EnrolledCourses = append(usr.EnrolledCourses, courseID)
	}
	return copyCourse(crs), nil
}
