package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/at-ishikawa/playtrack/internal/bootstrap"
	"github.com/at-ishikawa/playtrack/internal/config"
	"github.com/at-ishikawa/playtrack/internal/log"
	"github.com/at-ishikawa/playtrack/internal/report"
)

func newReportCommand() *cobra.Command {
	var (
		outputDirectory string
		generatePDF     bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write a markdown progress report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, false, func(ctx context.Context, cfg *config.Config, rt *bootstrap.Runtime) error {
				env, err := rt.Store.Get(ctx)
				if err != nil {
					return fmt.Errorf("store.Get() > %w", err)
				}
				tmpl, err := report.ParseTemplate(cfg.Report.Template, log.WithComponent("report"))
				if err != nil {
					return err
				}

				dir := cfg.Report.OutputDirectory
				if outputDirectory != "" {
					dir = outputDirectory
				}
				path, err := report.WriteFile(dir, tmpl, report.Build(env, time.Now()))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "report written to %s\n", path)

				if generatePDF {
					pdfPath, err := report.ConvertMarkdownToPDF(path)
					if err != nil {
						return fmt.Errorf("report.ConvertMarkdownToPDF(%s) > %w", path, err)
					}
					fmt.Fprintf(out, "PDF written to %s\n", pdfPath)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outputDirectory, "output-dir", "o", "", "Directory to write the report to, defaults to report.output_directory")
	cmd.Flags().BoolVar(&generatePDF, "pdf", false, "Also convert the report to PDF")
	return cmd
}
