package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/nholik/freshness-sentinel/internal/coordinator"
	"github.com/nholik/freshness-sentinel/internal/monitor"
	"github.com/spf13/cobra"
)

// errUpdateAvailable makes check exit non-zero for scripts.
var errUpdateAvailable = errors.New("a newer build is deployed")

type checkFlags struct {
	targetFlags
	json         bool
	failOnUpdate bool
}

func newCheckCmd(a *app) *cobra.Command {
	flags := &checkFlags{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare every target's loaded version with its deployed manifest once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runCheck(cmd, flags)
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().BoolVar(&flags.json, "json", false, "print reports as JSON")
	cmd.Flags().BoolVar(&flags.failOnUpdate, "fail-on-update", false, "exit non-zero when any target has an update")
	return cmd
}

func (a *app) runCheck(cmd *cobra.Command, flags *checkFlags) error {
	cfg := a.cfg
	flags.apply(cmd, &cfg)

	targets, err := resolveTargets(cfg)
	if err != nil {
		return err
	}
	coord, err := coordinator.New(a.logger, cfg, targets, coordinator.Dependencies{})
	if err != nil {
		return err
	}

	reports := coord.CheckOnce(cmd.Context())
	if err := writeReports(cmd, reports, flags.json); err != nil {
		return err
	}

	if flags.failOnUpdate {
		for _, report := range reports {
			if report.Result == monitor.ResultUpdate {
				return errUpdateAvailable
			}
		}
	}
	return nil
}

func writeReports(cmd *cobra.Command, reports []coordinator.CheckReport, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(reports)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tRESULT\tLOADED\tDEPLOYED\tBUILD TIME")
	for _, report := range reports {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			report.Target,
			report.Result,
			orDash(report.Status.CurrentVersion),
			orDash(report.Status.LatestVersion),
			orDash(report.Status.LatestBuildTime),
		)
	}
	return w.Flush()
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
