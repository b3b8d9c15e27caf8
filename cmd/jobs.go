package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadflow/internal/model"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect finished job history",
	Long:  "Commands for listing and viewing jobs persisted when they finalized.",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List finished jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "jobs")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		jobs, err := st.ListJobs(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show the final snapshot of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		output, _ := cmd.Flags().GetString("output")
		if output != "json" && output != "yaml" {
			return eris.Errorf("unsupported output format %q (json, yaml)", output)
		}

		st, err := openStore(ctx, "jobs")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}
		return writeSnapshot(os.Stdout, *job, output)
	},
}

func init() {
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")
	jobsShowCmd.Flags().StringP("output", "o", "json", "output format (json, yaml)")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	rootCmd.AddCommand(jobsCmd)
}

// writeSnapshot encodes snap to w as json or yaml.
func writeSnapshot(w io.Writer, snap model.Snapshot, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// formatJobsList writes a tabular list of jobs to w.
func formatJobsList(out io.Writer, jobs []model.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tUPLOAD\tSTEPS\tSTATUS\tPROCESSED\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t-----\t------\t---------\t-------\t--------")

	for _, j := range jobs {
		dur := ""
		if j.FinishedAt != nil {
			dur = j.FinishedAt.Sub(j.StartedAt).Round(time.Second).String()
		}

		steps := ""
		for i, s := range j.Steps {
			if i > 0 {
				steps += ","
			}
			steps += s.String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d/%d\t%s\t%s\n",
			truncateID(j.ID),
			j.UploadID,
			steps,
			j.Status,
			j.ProcessedItems,
			j.TotalItems,
			j.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}
