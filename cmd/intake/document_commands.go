package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/requirements-intake/internal/app"
	"github.com/joseph-ayodele/requirements-intake/internal/entity"
)

func parseID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%q is not a document id: %w", arg, err)
	}
	return id, nil
}

func printDocuments(cmd *cobra.Command, docs ...*entity.Document) {
	rows := make([][]string, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, []string{
			d.ID.String(), d.Name, string(d.Status), itoa(d.PageCount),
			itoa(d.BatchesProcessed), itoa(d.CandidatesImported), optional(d.LastError),
		})
	}
	printTable(cmd, []string{"ID", "Name", "Status", "Pages", "Batches", "Candidates", "Last Error"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft})
}

func newStatusCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <document-id>",
		Short: "Show a document, its pages and its processing events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return cc.withApp(cmd.Context(), app.Options{Offline: true}, func(a *app.App) error {
				ctx := cmd.Context()
				doc, err := a.Repos.Documents.Get(ctx, id)
				if err != nil {
					return err
				}
				pages, err := a.Repos.Pages.ListByDocument(ctx, id)
				if err != nil {
					return err
				}
				events, err := a.Repos.Events.ListByDocument(ctx, id)
				if err != nil {
					return err
				}
				if cc.jsonOutput(cmd) {
					return writeJSON(cmd, map[string]any{"document": doc, "pages": pages, "events": events})
				}

				printDocuments(cmd, doc)
				pageRows := make([][]string, 0, len(pages))
				for _, p := range pages {
					conf := ""
					if p.OCRConfidence != nil {
						conf = ftoa(*p.OCRConfidence)
					}
					pageRows = append(pageRows, []string{itoa(p.PageNumber), string(p.Status), conf, optional(p.ErrorMessage)})
				}
				printTable(cmd, []string{"Page", "Status", "Confidence", "Error"}, pageRows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft})

				eventRows := make([][]string, 0, len(events))
				for _, e := range events {
					eventRows = append(eventRows, []string{stamp(e.StartedAt), string(e.Status), itoa(e.PagesProcessed), itoa(e.CandidatesInserted), optional(e.Error)})
				}
				printTable(cmd, []string{"Started", "Status", "Pages", "Candidates", "Error"}, eventRows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft})
				return nil
			})
		},
	}
}

func newRequeueCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <document-id>",
		Short: "Reset a document's failed pages to queued",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return cc.withApp(cmd.Context(), app.Options{Offline: true}, func(a *app.App) error {
				n, err := a.Ingest.Requeue(cmd.Context(), id)
				if err != nil {
					return err
				}
				if cc.jsonOutput(cmd) {
					return writeJSON(cmd, map[string]any{"id": id, "pages_requeued": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %d page(s) of %s\n", n, id)
				return nil
			})
		},
	}
}

func newHideCommand(cc *commandContext) *cobra.Command {
	var restore bool
	cmd := &cobra.Command{
		Use:   "hide <document-id>",
		Short: "Hide a document from active lists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return cc.withApp(cmd.Context(), app.Options{Offline: true}, func(a *app.App) error {
				if err := a.Ingest.Hide(cmd.Context(), id, !restore); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s hidden=%s\n", id, yesNo(!restore))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&restore, "restore", false, "unhide instead")
	return cmd
}

func newDuplicatesCommand(cc *commandContext) *cobra.Command {
	var threshold float64
	cmd := &cobra.Command{
		Use:   "duplicates <document-id>",
		Short: "Group near-duplicate candidates of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return cc.withApp(cmd.Context(), app.Options{Offline: true}, func(a *app.App) error {
				report, err := a.Review.Duplicates(cmd.Context(), id, threshold)
				if err != nil {
					return err
				}
				if cc.jsonOutput(cmd) {
					return writeJSON(cmd, report)
				}
				cands, err := a.Review.List(cmd.Context(), id, "")
				if err != nil {
					return err
				}
				textOf := make(map[uuid.UUID]string, len(cands))
				for _, c := range cands {
					textOf[c.ID] = c.Text
				}
				rows := [][]string{}
				for i, g := range report.Groups {
					rows = append(rows, []string{itoa(i + 1), "keep", textOf[g.RepresentativeID]})
					for _, d := range g.DuplicateIDs {
						rows = append(rows, []string{"", "dup", textOf[d]})
					}
				}
				printTable(cmd, []string{"Group", "Role", "Text"}, rows, nil)
				fmt.Fprintf(cmd.OutOrStdout(), "%d group(s), %d duplicate(s) at threshold %.2f\n",
					report.Summary.Groups, report.Summary.Duplicates, report.Threshold)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "similarity threshold (default: dedup.threshold)")
	return cmd
}

func newExportCommand(cc *commandContext) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <document-id>",
		Short: "Write a document's candidates to an XLSX workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return cc.withApp(cmd.Context(), app.Options{Offline: true}, func(a *app.App) error {
				data, name, err := a.Export.CandidatesXLSX(cmd.Context(), id)
				if err != nil {
					return err
				}
				if out == "" {
					out = name
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(data))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default: candidates-<id>.xlsx)")
	return cmd
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
