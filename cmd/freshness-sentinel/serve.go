package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/nholik/freshness-sentinel/internal/server"
	"github.com/nholik/freshness-sentinel/internal/stamper"
	"github.com/spf13/cobra"
)

type serveFlags struct {
	addr    string
	entry   string
	origins string
	spa     bool
}

func newServeCmd(a *app) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve <output-dir>",
		Short: "Serve a stamped build with freshness-safe caching headers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd, args[0], flags)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", ":4173", "listen address")
	cmd.Flags().StringVar(&flags.entry, "entry", stamper.DefaultEntryDocument, "entry document inside the output directory")
	cmd.Flags().StringVar(&flags.origins, "origins", "", "comma separated origins allowed to read the manifest; empty allows any")
	cmd.Flags().BoolVar(&flags.spa, "spa", false, "serve the entry document for unknown routes")
	return cmd
}

func (a *app) runServe(cmd *cobra.Command, dir string, flags *serveFlags) error {
	handler, err := server.NewStaticHandler(a.logger, server.StaticOptions{
		Dir:            dir,
		EntryDocument:  flags.entry,
		AllowedOrigins: server.ParseOrigins(flags.origins),
		SPAFallback:    flags.spa,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Serve(ctx, a.logger, flags.addr, handler)
}
