package inmemdb

import (
	"cmp"
	"context"
	"strings"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db}
}

func copyUser(usr *user.User) user.User {
	u := *usr
	u.EnrolledCourses = cloneStrings(usr.EnrolledCourses)
	u.PasswordHash = append([]byte(nil), usr.PasswordHash...)
	return u
}

func (repo *userRepository) emailTaken(email string, excludedIDs []string) bool {
	for _, usr := range repo.db.users {
		if usr.Email == email && !contains(excludedIDs, usr.ID) {
			return true
		}
	}
	return false
}

func (repo *userRepository) CheckEmailUniqueness(_ context.Context, email string, excludedIDs ...string) error {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if repo.emailTaken(email, excludedIDs) {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if repo.emailTaken(usr.Email, nil) {
		return user.User{}, user.ErrEmailExists
	}
	usr.ID = newID()
	if usr.EnrolledCourses == nil {
		usr.EnrolledCourses = []string{}
	}
	stored := copyUser(&usr)
	repo.db.users[usr.ID] = &stored
	return copyUser(&stored), nil
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	switch {
	case filter.ID != "":
		if usr, ok := repo.db.users[filter.ID]; ok {
			return copyUser(usr), nil
		}
	case filter.Email != "":
		for _, usr := range repo.db.users {
			if usr.Email == filter.Email {
				return copyUser(usr), nil
			}
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) match(usr *user.User, filter *user.QueryFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Search != "" &&
		!(containsFold(usr.Name, filter.Search) || containsFold(usr.Email, filter.Search) ||
			containsFold(usr.EnrollmentID, filter.Search)) {
		return false
	}
	if len(filter.Roles) > 0 && !contains(filter.Roles, usr.Role) {
		return false
	}
	if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
		return false
	}
	if filter.IDs != nil && !contains(filter.IDs, usr.ID) {
		return false
	}
	return true
}

func compareUsers(field string, a, b user.User) int {
	switch field {
	case "name":
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	case "email":
		return strings.Compare(a.Email, b.Email)
	case "role":
		return strings.Compare(a.Role, b.Role)
	case "last_login":
		return a.LastLogin.Compare(b.LastLogin)
	case "created_at":
		return a.CreatedAt.Compare(b.CreatedAt)
	case "id":
		return cmp.Compare(a.ID, b.ID)
	}
	return 0
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	users := make([]user.User, 0)
	for _, usr := range repo.db.users {
		if repo.match(usr, filter) {
			users = append(users, copyUser(usr))
		}
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	sortByOrdering(users, withTiebreak(ordering), compareUsers)
	return users, nil
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	orig, ok := repo.db.users[usr.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	if usr.Email != orig.Email && repo.emailTaken(usr.Email, []string{usr.ID}) {
		return user.User{}, user.ErrEmailExists
	}

	// enrollment id, enrolled courses & creation date are not editable here
	usr.EnrollmentID = orig.EnrollmentID
	usr.EnrolledCourses = orig.EnrolledCourses
	usr.CreatedAt = orig.CreatedAt
	if usr.PasswordHash == nil {
		usr.PasswordHash = orig.PasswordHash
	}
	stored := copyUser(&usr)
	repo.db.users[usr.ID] = &stored
	return copyUser(&stored), nil
}
