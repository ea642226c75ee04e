package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/course"
	"github.com/guni/lms/core/user"
)

const courseColumns = `id, title, code, description, faculty_id, department, semester, credits, max_students,
	materials, schedule, is_active, academic_year, created_at, updated_at`

type courseRow struct {
	ID           string    `db:"id"`
	Title        string    `db:"title"`
	Code         string    `db:"code"`
	Description  string    `db:"description"`
	FacultyID    string    `db:"faculty_id"`
	Department   string    `db:"department"`
	Semester     int       `db:"semester"`
	Credits      int       `db:"credits"`
	MaxStudents  int       `db:"max_students"`
	Materials    null.JSON `db:"materials"`
	Schedule     null.JSON `db:"schedule"`
	IsActive     bool      `db:"is_active"`
	AcademicYear string    `db:"academic_year"`
	CreatedAt    null.Time `db:"created_at"`
	UpdatedAt    null.Time `db:"updated_at"`
}

func newCourseRow(crs course.Course) (courseRow, error) {
	materials := crs.Materials
	if materials == nil {
		materials = []course.Material{}
	}
	mats, err := json.Marshal(materials)
	if err != nil {
		return courseRow{}, errors.Wrap(err, "encoding materials")
	}
	sched, err := json.Marshal(crs.Schedule)
	if err != nil {
		return courseRow{}, errors.Wrap(err, "encoding schedule")
	}
	return courseRow{
		ID:           crs.ID,
		Title:        crs.Title,
		Code:         crs.Code,
		Description:  crs.Description,
		FacultyID:    crs.FacultyID,
		Department:   crs.Department,
		Semester:     crs.Semester,
		Credits:      crs.Credits,
		MaxStudents:  crs.MaxStudents,
		Materials:    null.JSONFrom(mats),
		Schedule:     null.JSONFrom(sched),
		IsActive:     crs.IsActive,
		AcademicYear: crs.AcademicYear,
		CreatedAt:    null.TimeFrom(crs.CreatedAt.UTC()),
		UpdatedAt:    null.TimeFrom(crs.UpdatedAt.UTC()),
	}, nil
}

func (r courseRow) toCourse(students []string) (course.Course, error) {
	crs := course.Course{
		ID:               r.ID,
		Title:            r.Title,
		Code:             r.Code,
		Description:      r.Description,
		FacultyID:        r.FacultyID,
		Department:       r.Department,
		Semester:         r.Semester,
		Credits:          r.Credits,
		MaxStudents:      r.MaxStudents,
		EnrolledStudents: students,
		Materials:        []course.Material{},
		IsActive:         r.IsActive,
		AcademicYear:     r.AcademicYear,
		CreatedAt:        utc(r.CreatedAt),
		UpdatedAt:        utc(r.UpdatedAt),
	}
	if crs.EnrolledStudents == nil {
		crs.EnrolledStudents = []string{}
	}
	if r.Materials.Valid {
		if err := r.Materials.Unmarshal(&crs.Materials); err != nil {
			return course.Course{}, errors.Wrap(err, "decoding materials")
		}
	}
	if r.Schedule.Valid {
		if err := r.Schedule.Unmarshal(&crs.Schedule); err != nil {
			return course.Course{}, errors.Wrap(err, "decoding schedule")
		}
	}
	return crs, nil
}

type courseRepository struct {
	db core.DB
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db core.DB) *courseRepository {
	return &courseRepository{db: db}
}

func (repo *courseRepository) CheckCodeUniqueness(ctx context.Context, code string, excludedIDs ...string) error {
	q, args := `SELECT EXISTS (SELECT 1 FROM course WHERE code = ?`, []interface{}{code}
	if len(excludedIDs) > 0 {
		q += ` AND id NOT IN (?)`
		args = append(args, excludedIDs)
	}
	q += `)`

	var taken bool
	if err := getIn(ctx, repo.db, &taken, q, args...); err != nil {
		return errors.Wrap(err, "checking code uniqueness")
	}
	if taken {
		return course.ErrCodeExists
	}
	return nil
}

func (repo *courseRepository) CreateCourse(ctx context.Context, crs course.Course) (course.Course, error) {
	crs.ID = uuid.New().String()
	row, err := newCourseRow(crs)
	if err != nil {
		return course.Course{}, err
	}
	_, err = repo.db.NamedExecContext(ctx, `INSERT INTO course (`+courseColumns+`) VALUES (
		:id, :title, :code, :description, :faculty_id, :department, :semester, :credits, :max_students,
		:materials, :schedule, :is_active, :academic_year, :created_at, :updated_at)`, row)
	if err != nil {
		if isUniqueViolation(err, "code") {
			return course.Course{}, course.ErrCodeExists
		}
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return row.toCourse(nil)
}

// enrolledStudents returns {courseID: [studentID, ...]} in enrollment order.
func enrolledStudents(ctx context.Context, exec core.DBExecutor, courseIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(courseIDs))
	if len(courseIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		CourseID  string `db:"course_id"`
		StudentID string `db:"student_id"`
	}
	q := `SELECT course_id, student_id FROM enrollment WHERE course_id IN (?) ORDER BY enrolled_at, student_id`
	if err := selectIn(ctx, exec, &rows, q, courseIDs); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	for _, r := range rows {
		out[r.CourseID] = append(out[r.CourseID], r.StudentID)
	}
	return out, nil
}

func getCourse(ctx context.Context, exec core.DBExecutor, id string, forUpdate bool) (course.Course, error) {
	if _, err := uuid.Parse(id); err != nil {
		return course.Course{}, course.ErrNotFound
	}
	q := `SELECT ` + courseColumns + ` FROM course WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}

	var row courseRow
	if err := exec.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, errors.Wrap(err, "finding course")
	}
	students, err := enrolledStudents(ctx, exec, []string{id})
	if err != nil {
		return course.Course{}, err
	}
	return row.toCourse(students[id])
}

func (repo *courseRepository) GetCourse(ctx context.Context, id string) (course.Course, error) {
	return getCourse(ctx, repo.db, id, false)
}

func (repo *courseRepository) QueryCourses(ctx context.Context, filter *course.QueryFilter, ordering []core.DBOrdering) ([]course.Course, error) {
	var conds []string
	var args []interface{}
	if filter != nil {
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			conds = append(conds, "(title ILIKE ? OR code ILIKE ?)")
			args = append(args, val, val)
		}
		if filter.Semester != 0 {
			conds = append(conds, "semester = ?")
			args = append(args, filter.Semester)
		}
		if filter.Department != "" {
			conds = append(conds, "department = ?")
			args = append(args, filter.Department)
		}
		if filter.IsActive != nil {
			conds = append(conds, "is_active = ?")
			args = append(args, *filter.IsActive)
		}
		if filter.FacultyID != "" {
			conds = append(conds, "faculty_id = ?")
			args = append(args, filter.FacultyID)
		}
		if filter.StudentID != "" {
			conds = append(conds, "id IN (SELECT course_id FROM enrollment WHERE student_id = ?)")
			args = append(args, filter.StudentID)
		}
		if filter.IDs != nil {
			if len(filter.IDs) == 0 {
				return []course.Course{}, nil
			}
			conds = append(conds, "id IN (?)")
			args = append(args, filter.IDs)
		}
	}
	if len(ordering) == 0 {
		ordering = course.DefaultOrdering
	}

	var rows []courseRow
	q := `SELECT ` + courseColumns + ` FROM course` + where(conds) + orderBy(ordering)
	if err := selectIn(ctx, repo.db, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	students, err := enrolledStudents(ctx, repo.db, ids)
	if err != nil {
		return nil, err
	}
	courses := make([]course.Course, len(rows))
	for i, r := range rows {
		if courses[i], err = r.toCourse(students[r.ID]); err != nil {
			return nil, err
		}
	}
	return courses, nil
}

func (repo *courseRepository) UpdateCourse(ctx context.Context, crs course.Course) (course.Course, error) {
	row, err := newCourseRow(crs)
	if err != nil {
		return course.Course{}, err
	}
	res, err := repo.db.NamedExecContext(ctx, `UPDATE course SET title = :title, code = :code,
		description = :description, department = :department, semester = :semester, credits = :credits,
		max_students = :max_students, schedule = :schedule, is_active = :is_active,
		academic_year = :academic_year, updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		if isUniqueViolation(err, "code") {
			return course.Course{}, course.ErrCodeExists
		}
		return course.Course{}, errors.Wrap(err, "updating course")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.Course{}, course.ErrNotFound
	}
	return repo.GetCourse(ctx, crs.ID)
}

func (repo *courseRepository) AddMaterial(ctx context.Context, courseID string, m course.Material, now time.Time) (course.Course, error) {
	if _, err := uuid.Parse(courseID); err != nil {
		return course.Course{}, course.ErrNotFound
	}
	mat, err := json.Marshal([]course.Material{m})
	if err != nil {
		return course.Course{}, errors.Wrap(err, "encoding material")
	}
	res, err := repo.db.ExecContext(ctx,
		`UPDATE course SET materials = materials || $1::jsonb, updated_at = $2 WHERE id = $3`,
		string(mat), now.UTC(), courseID)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "adding material")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.Course{}, course.ErrNotFound
	}
	return repo.GetCourse(ctx, courseID)
}

// Enroll locks the course row so that concurrent enrollments are checked against capacity one at a time.
func (repo *courseRepository) Enroll(ctx context.Context, courseID, studentID string, now time.Time) (course.Course, error) {
	var crs course.Course
	err := inTx(ctx, repo.db, func(tx core.DBTransactor) error {
		var err error
		if crs, err = getCourse(ctx, tx, courseID, true); err != nil {
			return err
		}
		if !crs.IsActive {
			return course.ErrNotFound
		}

		var found bool
		if err = tx.GetContext(ctx, &found, `SELECT EXISTS (SELECT 1 FROM "user" WHERE id = $1)`, studentID); err != nil {
			return errors.Wrap(err, "finding student")
		}
		if !found {
			return user.ErrNotFound
		}
		if crs.HasStudent(studentID) {
			return course.ErrAlreadyEnrolled
		}
		if crs.IsFull() {
			return course.ErrCourseFull
		}

		if _, err = tx.ExecContext(ctx,
			`INSERT INTO enrollment (course_id, student_id, enrolled_at) VALUES ($1, $2, $3)`,
			courseID, studentID, now.UTC()); err != nil {
			if isUniqueViolation(err, "") {
				return course.ErrAlreadyEnrolled
			}
			return errors.Wrap(err, "inserting enrollment")
		}
		if _, err = tx.ExecContext(ctx, `UPDATE course SET updated_at = $1 WHERE id = $2`, now.UTC(), courseID); err != nil {
			return errors.Wrap(err, "touching course")
		}
		crs.EnrolledStudents = append(crs.EnrolledStudents, studentID)
		crs.UpdatedAt = now
		return nil
	})
	if err != nil {
		return course.Course{}, err
	}
	return crs, nil
}
