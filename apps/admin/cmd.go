package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/masomo-pkl/core"
	"github.com/trezcool/masomo-pkl/core/placement"
	"github.com/trezcool/masomo-pkl/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errEmptyPassword = errors.New("password cannot be empty")
)

type commandLine struct {
	db       *sqlx.DB
	logger   core.Logger
	validate *validator.Validate
	usrSvc   *user.Service
	plcSvc   *placement.Service

	in  io.Reader
	out io.Writer
}

func (cli *commandLine) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "admin",
		Short:         "Masomo PKL administration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(cli.in)
	cmd.SetOut(cli.out)
	cmd.SetErr(cli.out)

	cmd.AddCommand(cli.migrateCmd())
	cmd.AddCommand(cli.addUserCmd())
	cmd.AddCommand(cli.resetPasswordCmd())
	cmd.AddCommand(cli.seedCmd())
	cmd.AddCommand(cli.placementCmd())
	return cmd
}

func (cli *commandLine) run(args []string) error {
	cmd := cli.rootCmd()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func (cli *commandLine) promptPassword(label string) (string, error) {
	fmt.Fprintf(cli.out, "%s:", label)
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}
	if len(pwd) == 0 {
		return "", errEmptyPassword
	}
	return string(pwd), nil
}

// confirm asks a yes/no question on cli.in.
func (cli *commandLine) confirm(question string) bool {
	fmt.Fprintf(cli.out, "%s [y/N]: ", question)
	answer, _ := bufio.NewReader(cli.in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func newCommandLine(db *sqlx.DB, logger core.Logger, validate *validator.Validate, usrSvc *user.Service, plcSvc *placement.Service) *commandLine {
	return &commandLine{
		db:       db,
		logger:   logger,
		validate: validate,
		usrSvc:   usrSvc,
		plcSvc:   plcSvc,
		in:       os.Stdin,
		out:      os.Stdout,
	}
}
