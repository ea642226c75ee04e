package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/course"
	"github.com/guni/lms/core/user"
)

type seedData struct {
	Users   []seedUser   `yaml:"users"`
	Courses []seedCourse `yaml:"courses"`
}

type seedUser struct {
	Name       string `yaml:"name"`
	Email      string `yaml:"email"`
	Password   string `yaml:"password"`
	Role       string `yaml:"role"`
	Department string `yaml:"department"`
	Semester   int    `yaml:"semester"`
	Phone      string `yaml:"phone"`
}

type seedCourse struct {
	Title        string          `yaml:"title"`
	Code         string          `yaml:"code"`
	Description  string          `yaml:"description"`
	Department   string          `yaml:"department"`
	Semester     int             `yaml:"semester"`
	Credits      int             `yaml:"credits"`
	MaxStudents  int             `yaml:"max_students"`
	AcademicYear string          `yaml:"academic_year"`
	Schedule     course.Schedule `yaml:"schedule"`
	Faculty      string          `yaml:"faculty"`  // email
	Students     []string        `yaml:"students"` // emails
}

func loadSeed(path string) (seedData, error) {
	var data seedData
	f, err := os.Open(path)
	if err != nil {
		return data, errors.Wrap(err, "opening seed file")
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err = dec.Decode(&data); err != nil {
		return data, errors.Wrapf(err, "decoding %s", path)
	}
	return data, nil
}

// seed creates the users & courses of a YAML file; existing emails and course codes are skipped.
func (cli *commandLine) seed(path string) error {
	data, err := loadSeed(path)
	if err != nil {
		return err
	}
	ctx := context.Background()

	var usrCount, crsCount, enrollCount int
	for _, su := range data.Users {
		created, err := cli.seedUser(ctx, su)
		if err != nil {
			return errors.Wrapf(err, "seeding user %s", su.Email)
		}
		if created {
			usrCount++
		}
	}
	for _, sc := range data.Courses {
		crs, created, err := cli.seedCourse(ctx, sc)
		if err != nil {
			return errors.Wrapf(err, "seeding course %s", sc.Code)
		}
		if created {
			crsCount++
		}
		for _, email := range sc.Students {
			stu, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Email: core.CleanString(email, true /* lower */)})
			if err != nil {
				return errors.Wrapf(err, "enrolling %s in %s", email, crs.Code)
			}
			if _, err = cli.courseSvc.Enroll(ctx, stu.Identity(), crs.ID); err != nil {
				if errors.Cause(err) == course.ErrAlreadyEnrolled {
					continue
				}
				return errors.Wrapf(err, "enrolling %s in %s", email, crs.Code)
			}
			enrollCount++
		}
	}
	fmt.Printf("seeded %d users, %d courses, %d enrollments\n", usrCount, crsCount, enrollCount)
	return nil
}

func (cli *commandLine) seedUser(ctx context.Context, su seedUser) (bool, error) {
	nu := user.NewUser{
		Name:       core.CleanString(su.Name),
		Email:      core.CleanString(su.Email, true /* lower */),
		Password:   su.Password,
		Role:       core.CleanString(su.Role, true /* lower */),
		Department: core.CleanString(su.Department),
		Semester:   su.Semester,
		Phone:      core.CleanString(su.Phone),
	}
	if nu.Name == "" || nu.Email == "" || nu.Password == "" {
		return false, errors.New("name, email & password are required")
	}
	if err := cli.usrRepo.CheckEmailUniqueness(ctx, nu.Email); err != nil {
		if errors.Cause(err) == user.ErrEmailExists {
			return false, nil
		}
		return false, err
	}
	if err := checkPassword(nu.Password, nu.Name, nu.Email); err != nil {
		return false, err
	}
	usr, err := user.New(nu, cli.conf, core.NowFunc())
	if err != nil {
		return false, err
	}
	if _, err = cli.usrRepo.CreateUser(ctx, usr); err != nil {
		return false, err
	}
	return true, nil
}

func (cli *commandLine) seedCourse(ctx context.Context, sc seedCourse) (course.Course, bool, error) {
	faculty, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Email: core.CleanString(sc.Faculty, true /* lower */)})
	if err != nil {
		return course.Course{}, false, errors.Wrapf(err, "faculty %q", sc.Faculty)
	}
	nc := course.NewCourse{
		Title:        sc.Title,
		Code:         sc.Code,
		Description:  sc.Description,
		Department:   sc.Department,
		Semester:     sc.Semester,
		Credits:      sc.Credits,
		MaxStudents:  sc.MaxStudents,
		Schedule:     sc.Schedule,
		AcademicYear: sc.AcademicYear,
	}
	if err = nc.Validate(cli.validate); err != nil {
		return course.Course{}, false, err
	}
	crs, err := cli.courseSvc.Create(ctx, faculty.Identity(), nc)
	if err == nil {
		return crs, true, nil
	}
	if errors.Cause(err) != course.ErrCodeExists {
		return course.Course{}, false, err
	}

	existing, err := cli.courseSvc.Query(ctx, &course.QueryFilter{Search: nc.Code}, nil)
	if err != nil {
		return course.Course{}, false, err
	}
	for _, c := range existing {
		if c.Code == nc.Code {
			return c, false, nil
		}
	}
	return course.Course{}, false, errors.Errorf("course %s exists but is inactive", nc.Code)
}
