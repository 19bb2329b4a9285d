package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-pkl/core"
	"github.com/trezcool/masomo-pkl/core/user"
)

func (cli *commandLine) addUserCmd() *cobra.Command {
	var (
		name, uname, email string
		isAdmin            bool
	)
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a user, or update the password and roles of an existing one. The password is prompted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if uname == "" && email == "" {
				return errors.New("one of --username or --email is required")
			}
			pwd, err := cli.promptPassword("Enter password")
			if err != nil {
				return err
			}
			usr, err := cli.addUser(cmd.Context(), name, uname, email, pwd, isAdmin)
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "user %s saved (%s)\n", usr.Username, usr.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name (defaults to the username)")
	cmd.Flags().StringVar(&uname, "username", "", "username")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "grant the admin role instead of the teacher one")
	return cmd
}

// addUser updates or creates a user.User
func (cli *commandLine) addUser(ctx context.Context, name, uname, email, pwd string, isAdmin bool) (user.User, error) {
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	roles := []string{user.RoleTeacher}
	if isAdmin {
		roles = []string{user.RoleAdmin}
	}

	lookup := uname
	if lookup == "" {
		lookup = email
	}
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, lookup)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return user.User{}, err
		}
		if name == "" {
			name = uname
		}
		nu := user.NewUser{
			Name:            name,
			Username:        uname,
			Email:           email,
			Password:        pwd,
			PasswordConfirm: pwd,
			Roles:           roles,
		}
		if err = nu.Validate(cli.validate, cli.usrSvc); err != nil {
			return user.User{}, err
		}
		return cli.usrSvc.Create(ctx, nu)
	}

	if name != "" {
		usr.Name = core.CleanString(name)
	}
	usr.Roles = roles
	usr.IsActive = true
	if err = usr.SetPassword(pwd); err != nil {
		return user.User{}, errors.Wrap(err, "hashing password")
	}
	return cli.usrSvc.UpdateOrCreate(ctx, usr)
}
