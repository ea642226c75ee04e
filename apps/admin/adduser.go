package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(name, email, role, pwd string) error {
	ctx := context.Background()
	name = core.CleanString(name)
	email = core.CleanString(email, true /* lower */)
	role = core.CleanString(role, true /* lower */)

	if !lo.Contains(user.AllRoles, role) {
		return errors.Errorf("invalid role %q", role)
	}
	if err := checkPassword(pwd, name, email); err != nil {
		return err
	}

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Email: email})
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		usr, err = user.New(user.NewUser{Name: name, Email: email, Password: pwd, Role: role}, cli.conf, core.NowFunc())
		if err != nil {
			return err
		}
		_, err = cli.usrRepo.CreateUser(ctx, usr)
		return errors.Wrap(err, "creating user")
	}

	// enrollment ids are bound to student accounts
	if usr.Role != role && (usr.Role == user.RoleStudent || role == user.RoleStudent) {
		return errors.Errorf("cannot change the role of %s from %s to %s", email, usr.Role, role)
	}
	usr.Name = name
	usr.Role = role
	usr.IsActive = true
	usr.UpdatedAt = core.NowFunc()
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	_, err = cli.usrRepo.UpdateUser(ctx, usr)
	return errors.Wrap(err, "updating user")
}
