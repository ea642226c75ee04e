package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/user"
)

const userColumns = `id, name, email, role, enrollment_id, department, semester, phone, bio, is_active,
	password_hash, last_login, created_at, updated_at`

type userRow struct {
	ID           string      `db:"id"`
	Name         string      `db:"name"`
	Email        string      `db:"email"`
	Role         string      `db:"role"`
	EnrollmentID null.String `db:"enrollment_id"`
	Department   string      `db:"department"`
	Semester     null.Int    `db:"semester"`
	Phone        string      `db:"phone"`
	Bio          string      `db:"bio"`
	IsActive     bool        `db:"is_active"`
	PasswordHash []byte      `db:"password_hash"`
	LastLogin    null.Time   `db:"last_login"`
	CreatedAt    null.Time   `db:"created_at"`
	UpdatedAt    null.Time   `db:"updated_at"`
}

func newUserRow(usr user.User) userRow {
	return userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Email:        usr.Email,
		Role:         usr.Role,
		EnrollmentID: null.NewString(usr.EnrollmentID, usr.EnrollmentID != ""),
		Department:   usr.Department,
		Semester:     null.NewInt(usr.Semester, usr.Semester != 0),
		Phone:        usr.Phone,
		Bio:          usr.Bio,
		IsActive:     usr.IsActive,
		PasswordHash: usr.PasswordHash,
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
		CreatedAt:    null.TimeFrom(usr.CreatedAt.UTC()),
		UpdatedAt:    null.TimeFrom(usr.UpdatedAt.UTC()),
	}
}

func (r userRow) toUser(enrolledCourses []string) user.User {
	if enrolledCourses == nil {
		enrolledCourses = []string{}
	}
	return user.User{
		ID:              r.ID,
		Name:            r.Name,
		Email:           r.Email,
		Role:            r.Role,
		EnrollmentID:    r.EnrollmentID.String,
		Department:      r.Department,
		Semester:        r.Semester.Int,
		Phone:           r.Phone,
		Bio:             r.Bio,
		IsActive:        r.IsActive,
		EnrolledCourses: enrolledCourses,
		PasswordHash:    r.PasswordHash,
		LastLogin:       utc(r.LastLogin),
		CreatedAt:       utc(r.CreatedAt),
		UpdatedAt:       utc(r.UpdatedAt),
	}
}

type userRepository struct {
	db core.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db core.DB) *userRepository {
	return &userRepository{db: db}
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func (repo *userRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo *userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedIDs ...string) error {
	q, args := `SELECT EXISTS (SELECT 1 FROM "user" WHERE email = ?`, []interface{}{email}
	if len(excludedIDs) > 0 {
		q += ` AND id NOT IN (?)`
		args = append(args, excludedIDs)
	}
	q += `)`

	var taken bool
	if err := getIn(ctx, repo.db, &taken, q, args...); err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if taken {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	row := newUserRow(usr)
	_, err := repo.db.NamedExecContext(ctx, `INSERT INTO "user" (`+userColumns+`) VALUES (
		:id, :name, :email, :role, :enrollment_id, :department, :semester, :phone, :bio, :is_active,
		:password_hash, :last_login, :created_at, :updated_at)`, row)
	if err != nil {
		if isUniqueViolation(err, "email") {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return row.toUser(nil), nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var where string
	var arg interface{}
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		where, arg = "id = $1", filter.ID
	case filter.Email != "":
		where, arg = "email = $1", filter.Email
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM "user" WHERE `+where, arg); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user")
	}
	courses, err := repo.enrolledCourses(ctx, []string{row.ID})
	if err != nil {
		return user.User{}, err
	}
	return row.toUser(courses[row.ID]), nil
}

// enrolledCourses returns {studentID: [courseID, ...]} in enrollment order.
func (repo *userRepository) enrolledCourses(ctx context.Context, studentIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(studentIDs))
	if len(studentIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		StudentID string `db:"student_id"`
		CourseID  string `db:"course_id"`
	}
	q := `SELECT student_id, course_id FROM enrollment WHERE student_id IN (?) ORDER BY enrolled_at, course_id`
	if err := selectIn(ctx, repo.db, &rows, q, studentIDs); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	for _, r := range rows {
		out[r.StudentID] = append(out[r.StudentID], r.CourseID)
	}
	return out, nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	var conds []string
	var args []interface{}
	if filter != nil {
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			conds = append(conds, "(name ILIKE ? OR email ILIKE ? OR enrollment_id ILIKE ?)")
			args = append(args, val, val, val)
		}
		if len(filter.Roles) > 0 {
			conds = append(conds, "role IN (?)")
			args = append(args, filter.Roles)
		}
		if filter.IsActive != nil {
			conds = append(conds, "is_active = ?")
			args = append(args, *filter.IsActive)
		}
		if filter.IDs != nil {
			if len(filter.IDs) == 0 {
				return []user.User{}, nil
			}
			conds = append(conds, "id IN (?)")
			args = append(args, filter.IDs)
		}
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}

	q := `SELECT ` + userColumns + ` FROM "user"` + where(conds) + orderBy(ordering)
	var rows []userRow
	if err := selectIn(ctx, repo.db, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	courses, err := repo.enrolledCourses(ctx, ids)
	if err != nil {
		return nil, err
	}
	users := make([]user.User, len(rows))
	for i, r := range rows {
		users[i] = r.toUser(courses[r.ID])
	}
	return users, nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	row := newUserRow(usr)
	q := `UPDATE "user" SET name = :name, email = :email, role = :role, department = :department,
		semester = :semester, phone = :phone, bio = :bio, is_active = :is_active, last_login = :last_login,
		updated_at = :updated_at`
	if usr.PasswordHash != nil {
		q += `, password_hash = :password_hash`
	}
	q += ` WHERE id = :id`

	res, err := repo.db.NamedExecContext(ctx, q, row)
	if err != nil {
		if isUniqueViolation(err, "email") {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUser(ctx, user.GetFilter{ID: usr.ID})
}

// getIn expands IN (?) clauses then runs a rebound GetContext.
func getIn(ctx context.Context, db core.DBExecutor, dest interface{}, q string, args ...interface{}) error {
	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return err
	}
	return db.GetContext(ctx, dest, db.Rebind(q), args...)
}

// selectIn expands IN (?) clauses then runs a rebound SelectContext.
func selectIn(ctx context.Context, db core.DBExecutor, dest interface{}, q string, args ...interface{}) error {
	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return err
	}
	return db.SelectContext(ctx, dest, db.Rebind(q), args...)
}

func where(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// orderBy renders orderings (already whitelisted by core.ParseOrdering) with an id tiebreak.
func orderBy(ordering []core.DBOrdering) string {
	parts := make([]string, 0, len(ordering)+1)
	for _, o := range ordering {
		parts = append(parts, o.String())
	}
	parts = append(parts, "id ASC")
	return " ORDER BY " + strings.Join(parts, ", ")
}
