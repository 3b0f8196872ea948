package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/requirements-intake/constants"
	"github.com/joseph-ayodele/requirements-intake/internal/app"
	"github.com/joseph-ayodele/requirements-intake/internal/ingest"
	"github.com/joseph-ayodele/requirements-intake/internal/pipeline"
)

func newTickCommand(cc *commandContext) *cobra.Command {
	var untilIdle bool
	var maxTicks int
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run processing ticks against the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cc.withApp(cmd.Context(), app.Options{}, func(a *app.App) error {
				var results []pipeline.TickResult
				for i := 0; i < maxTicks; i++ {
					res, err := a.Processor.Tick(cmd.Context())
					if err != nil {
						return err
					}
					results = append(results, res)
					if !untilIdle || res.Status == constants.TickIdle || len(res.Errors) > 0 {
						break
					}
				}
				if cc.jsonOutput(cmd) {
					return writeJSON(cmd, results)
				}
				rows := make([][]string, 0, len(results))
				for i, r := range results {
					rows = append(rows, []string{itoa(i + 1), string(r.Status), itoa(r.ProcessedBatches), itoa(r.CandidatesInserted), strings.Join(r.Errors, "; ")})
				}
				printTable(cmd, []string{"Tick", "Status", "Batches", "Candidates", "Errors"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft})
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&untilIdle, "until-idle", false, "keep ticking until the queue is empty")
	cmd.Flags().IntVar(&maxTicks, "max", 50, "upper bound on ticks with --until-idle")
	return cmd
}

func newIngestCommand(cc *commandContext) *cobra.Command {
	var (
		req     ingest.Request
		project string
		pages   int
	)
	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Register an object already in the bucket and process it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := uuid.Parse(project)
			if err != nil {
				return fmt.Errorf("--project must be a UUID: %w", err)
			}
			req.ProjectID = pid
			req.Path = args[0]
			if req.Name == "" {
				req.Name = args[0]
			}
			if pages > 0 {
				req.Pages = &pages
			}
			return cc.withApp(cmd.Context(), app.Options{}, func(a *app.App) error {
				res, err := a.Ingest.Ingest(cmd.Context(), req)
				if err != nil {
					return err
				}
				if cc.jsonOutput(cmd) {
					return writeJSON(cmd, res)
				}
				printDocuments(cmd, res.Document)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project id (required)")
	cmd.Flags().StringVar(&req.Name, "name", "", "display name (default: the path)")
	cmd.Flags().StringVar(&req.Bucket, "bucket", "", "bucket (default: storage.bucket)")
	cmd.Flags().StringVar(&req.MIMEType, "mime", "", "MIME type (default: from the extension)")
	cmd.Flags().IntVar(&pages, "pages", 0, "page count; skips download when set")
	cmd.Flags().StringVar(&req.LanguageHint, "lang", "", "language hint, e.g. en")
	cmd.Flags().StringVar(&req.UserID, "user", "", "upload on behalf of this user (applies the quota)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
