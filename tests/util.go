// Package testutil creates fixtures directly through the repositories.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/assignment"
	"github.com/guni/lms/core/course"
	"github.com/guni/lms/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, pwd, role string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := core.NowFunc()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC().Truncate(time.Millisecond)
	}
	usr := user.User{
		Name:            name,
		Email:           email,
		Role:            role,
		Department:      "Computer Science",
		IsActive:        isActive,
		EnrolledCourses: []string{},
		CreatedAt:       tstamp,
		UpdatedAt:       tstamp,
	}
	if role == user.RoleStudent {
		usr.EnrollmentID = user.NewEnrollmentID("GUNI")
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateCourse(
	t *testing.T,
	repo course.Repository,
	faculty user.User,
	title, code string,
	maxStudents int,
	createdAt ...time.Time,
) course.Course {
	tstamp := core.NowFunc()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC().Truncate(time.Millisecond)
	}
	crs := course.Course{
		Title:            title,
		Code:             code,
		Description:      title + " description",
		FacultyID:        faculty.ID,
		Department:       faculty.Department,
		Semester:         1,
		Credits:          course.DefaultCredits,
		MaxStudents:      maxStudents,
		EnrolledStudents: []string{},
		Materials:        []course.Material{},
		IsActive:         true,
		AcademicYear:     "2026-2027",
		CreatedAt:        tstamp,
		UpdatedAt:        tstamp,
	}
	crs, err := repo.CreateCourse(context.Background(), crs)
	if err != nil {
		t.Fatalf("CreateCourse() failed: %v", err)
	}
	return crs
}

// Enroll bypasses the role checks of the course service.
func Enroll(t *testing.T, repo course.Repository, crs course.Course, students ...user.User) course.Course {
	var err error
	for _, s := range students {
		crs, err = repo.Enroll(context.Background(), crs.ID, s.ID, core.NowFunc())
		if err != nil {
			t.Fatalf("Enroll() failed: %v", err)
		}
	}
	return crs
}

func CreateAssignment(
	t *testing.T,
	repo assignment.Repository,
	crs course.Course,
	title string,
	dueDate time.Time,
	isVisible bool,
	createdAt ...time.Time,
) assignment.Assignment {
	now := core.NowFunc()
	if len(createdAt) > 0 {
		now = createdAt[0].UTC().Truncate(time.Millisecond)
	}
	a := assignment.Assignment{
		Title:       title,
		Description: title + " description",
		CourseID:    crs.ID,
		FacultyID:   crs.FacultyID,
		DueDate:     dueDate.UTC().Truncate(time.Millisecond),
		TotalMarks:  assignment.DefaultTotalMarks,
		Kind:        assignment.KindAssignment,
		IsVisible:   isVisible,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	a, err := repo.CreateAssignment(context.Background(), a)
	if err != nil {
		t.Fatalf("CreateAssignment() failed: %v", err)
	}
	return a
}
