package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/masomo-pkl/core/placement"
)

// fixtures is the format of the seed file:
//
//	periods:
//	  - {name: Ganjil 2024, start_date: 2024-07-01, end_date: 2024-12-31, is_active: true}
//	candidates:
//	  - {name: Ani Lestari, class: XII TKJ 1}
//	hosts:
//	  - {name: PT Telkom, capacity: 2}
//	supervisors:
//	  - {name: Pak Agus, email: agus@example.com}
type fixtures struct {
	Periods     []placement.NewPeriod     `yaml:"periods"`
	Candidates  []placement.NewCandidate  `yaml:"candidates"`
	Hosts       []placement.NewHost       `yaml:"hosts"`
	Supervisors []placement.NewSupervisor `yaml:"supervisors"`
}

type seedResult struct {
	periods, candidates, hosts, supervisors int
}

func (cli *commandLine) seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load periods, candidates, hosts and supervisors from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return errors.Wrap(err, "opening fixtures")
			}
			defer f.Close()

			res, err := cli.seed(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "seeded %d periods, %d candidates, %d hosts, %d supervisors\n",
				res.periods, res.candidates, res.hosts, res.supervisors)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "fixtures file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (cli *commandLine) seed(ctx context.Context, r io.Reader) (seedResult, error) {
	var (
		fx  fixtures
		res seedResult
	)
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil && err != io.EOF {
		return res, errors.Wrap(err, "decoding fixtures")
	}

	for i, np := range fx.Periods {
		if _, err := cli.plcSvc.CreatePeriod(ctx, np); err != nil {
			return res, errors.Wrapf(err, "periods[%d]", i)
		}
		res.periods++
	}
	for i, nc := range fx.Candidates {
		if _, err := cli.plcSvc.CreateCandidate(ctx, nc); err != nil {
			return res, errors.Wrapf(err, "candidates[%d]", i)
		}
		res.candidates++
	}
	for i, nh := range fx.Hosts {
		if _, err := cli.plcSvc.CreateHost(ctx, nh); err != nil {
			return res, errors.Wrapf(err, "hosts[%d]", i)
		}
		res.hosts++
	}
	for i, ns := range fx.Supervisors {
		if _, err := cli.plcSvc.CreateSupervisor(ctx, ns); err != nil {
			return res, errors.Wrapf(err, "supervisors[%d]", i)
		}
		res.supervisors++
	}
	return res, nil
}
