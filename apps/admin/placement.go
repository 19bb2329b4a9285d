package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-pkl/core/placement/engine"
)

func (cli *commandLine) placementCmd() *cobra.Command {
	var periodID string
	cmd := &cobra.Command{
		Use:   "placement",
		Short: "Inspect and edit the placement board",
	}
	cmd.PersistentFlags().StringVar(&periodID, "period", "", "period id (defaults to the active period)")

	cmd.AddCommand(cli.boardCmd(&periodID))
	cmd.AddCommand(cli.assignCmd(&periodID))
	cmd.AddCommand(cli.unassignCmd(&periodID))
	return cmd
}

// loadBoard builds an engine over the placement service and loads the period.
func (cli *commandLine) loadBoard(ctx context.Context, periodID string) (*engine.Engine, error) {
	eng := engine.New(engine.Deps{
		Directory: cli.plcSvc,
		Assigner:  cli.plcSvc,
		Periods:   cli.plcSvc,
		Logger:    cli.logger,
	})
	if err := eng.Initialize(ctx, periodID); err != nil {
		return nil, errors.Wrap(err, "loading board")
	}
	return eng, nil
}

// mutationErr turns a failed mutation into the notice shown to the user.
func mutationErr(err error) error {
	var merr *engine.MutationError
	if errors.As(err, &merr) {
		return errors.New(merr.Notice())
	}
	return err
}

func (cli *commandLine) boardCmd(periodID *string) *cobra.Command {
	var search, class string
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Print the placement board",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := cli.loadBoard(cmd.Context(), *periodID)
			if err != nil {
				return err
			}
			board := eng.Snapshot()
			if search != "" || class != "" {
				board.Unassigned = eng.Filter(search, class)
			}
			return board.Render(cli.out)
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "only list the unassigned candidates whose name contains this")
	cmd.Flags().StringVar(&class, "class", "", "only list the unassigned candidates of this class")
	return cmd
}

func (cli *commandLine) assignCmd(periodID *string) *cobra.Command {
	var candidateID, hostID, supervisorID string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign an unassigned candidate to a host",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := cli.loadBoard(cmd.Context(), *periodID)
			if err != nil {
				return err
			}
			if supervisorID != "" {
				if err = eng.SetHostSupervisor(hostID, supervisorID); err != nil {
					return err
				}
			}
			if !eng.BeginMove(candidateID) {
				return engine.ErrNotUnassigned
			}
			a, err := eng.CompleteMove(cmd.Context(), candidateID, hostID)
			if err != nil {
				return mutationErr(err)
			}
			fmt.Fprintf(cli.out, "assigned %s (%s)\n", a.Candidate.Name, a.ID)
			return eng.Snapshot().Render(cli.out)
		},
	}
	cmd.Flags().StringVar(&candidateID, "candidate", "", "candidate id")
	cmd.Flags().StringVar(&hostID, "host", "", "host id")
	cmd.Flags().StringVar(&supervisorID, "supervisor", "", "supervisor id (defaults to the host's current supervisor)")
	_ = cmd.MarkFlagRequired("candidate")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

func (cli *commandLine) unassignCmd(periodID *string) *cobra.Command {
	var (
		assignmentID string
		yes          bool
	)
	cmd := &cobra.Command{
		Use:   "unassign",
		Short: "Remove an assignment, returning its candidate to the unassigned list",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := cli.loadBoard(cmd.Context(), *periodID)
			if err != nil {
				return err
			}

			var name string
			for _, col := range eng.Snapshot().Hosts {
				for _, s := range col.Slots {
					if s.ID == assignmentID {
						name = fmt.Sprintf("%s from %s", s.Candidate.Name, col.Host.Name)
					}
				}
			}
			if name == "" {
				return engine.ErrUnknownAssignment
			}
			if !yes && !cli.confirm(fmt.Sprintf("Remove %s?", name)) {
				fmt.Fprintln(cli.out, "aborted")
				return nil
			}

			if err = eng.Unassign(cmd.Context(), assignmentID); err != nil {
				return mutationErr(err)
			}
			fmt.Fprintf(cli.out, "removed %s\n", name)
			return eng.Snapshot().Render(cli.out)
		},
	}
	cmd.Flags().StringVar(&assignmentID, "assignment", "", "assignment id")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	_ = cmd.MarkFlagRequired("assignment")
	return cmd
}
