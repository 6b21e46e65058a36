package main

import (
	"fmt"

	"github.com/nholik/freshness-sentinel/internal/stamper"
	"github.com/spf13/cobra"
)

type stampFlags struct {
	entry  string
	token  string
	strict bool
}

func newStampCmd(a *app) *cobra.Command {
	flags := &stampFlags{}
	cmd := &cobra.Command{
		Use:   "stamp <output-dir>",
		Short: "Write version.json and stamp the entry document of a build",
		Long: "Writes <output-dir>/version.json with a fresh build token and writes the same token " +
			"into the app-version meta tag of the entry document. Run it once per build, after bundling.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStamp(cmd, args[0], flags)
		},
	}
	cmd.Flags().StringVar(&flags.entry, "entry", stamper.DefaultEntryDocument, "entry document inside the output directory")
	cmd.Flags().StringVar(&flags.token, "token", "", "use this build token instead of the current time in milliseconds")
	cmd.Flags().BoolVar(&flags.strict, "strict", false, "fail when the entry document cannot be stamped")
	return cmd
}

func (a *app) runStamp(cmd *cobra.Command, dir string, flags *stampFlags) error {
	s := stamper.New(a.logger,
		stamper.WithEntryDocument(flags.entry),
		stamper.WithToken(flags.token),
	)

	result, err := s.Run(cmd.Context(), dir)
	if err != nil {
		a.logger.Error().Err(err).Msg("build failed: version manifest not written")
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Manifest.Version)

	if result.StampErr != nil && flags.strict {
		return result.StampErr
	}
	return nil
}
