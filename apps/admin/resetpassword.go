package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (cli *commandLine) resetPasswordCmd() *cobra.Command {
	var uname string
	cmd := &cobra.Command{
		Use:   "resetpassword",
		Short: "Reset a user's password. The password is prompted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pwd, err := cli.promptPassword("Enter password")
			if err != nil {
				return err
			}
			usr, err := cli.usrSvc.SetPassword(cmd.Context(), uname, pwd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "password of %s updated\n", usr.Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&uname, "username", "", "the user's username or email")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}
