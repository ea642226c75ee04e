// Package inmemdb keeps every table in process memory. All tables share one lock so that operations
// touching several of them (enrollment) are atomic.
package inmemdb

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/assignment"
	"github.com/guni/lms/core/course"
	"github.com/guni/lms/core/user"
)

type DB struct {
	mu          sync.RWMutex
	users       map[string]*user.User
	courses     map[string]*course.Course
	assignments map[string]*assignment.Assignment
	submissions map[string]*assignment.Submission // {assignmentID/studentID: submission}
}

func Open() *DB {
	db := new(DB)
	db.Reset()
	return db
}

// Reset drops every record.
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users = make(map[string]*user.User)
	db.courses = make(map[string]*course.Course)
	db.assignments = make(map[string]*assignment.Assignment)
	db.submissions = make(map[string]*assignment.Submission)
}

func newID() string {
	return uuid.New().String()
}

func cloneStrings(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// sortByOrdering sorts items following orderings; cmp returns -1, 0 or 1 for a field of a & b.
func sortByOrdering[T any](items []T, orderings []core.DBOrdering, cmp func(field string, a, b T) int) {
	sort.SliceStable(items, func(i, j int) bool {
		for _, ord := range orderings {
			c := cmp(ord.Field, items[i], items[j])
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
}

// withTiebreak appends an ascending id ordering so that results are deterministic.
func withTiebreak(ordering []core.DBOrdering) []core.DBOrdering {
	out := make([]core.DBOrdering, 0, len(ordering)+1)
	out = append(out, ordering...)
	return append(out, core.DBOrdering{Field: "id", Ascending: true})
}
