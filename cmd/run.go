package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an enrichment job over an upload and follow its progress",
	Long:  "Starts a job in-process and prints progress until it finishes. Ctrl-C requests a graceful stop; a second Ctrl-C exits immediately.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		req, err := runRequestFromFlags(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		relayCtx, cancelRelay := context.WithCancel(ctx)
		defer cancelRelay()
		env.runRelays(relayCtx)

		snap, err := env.Registry.Start(ctx, req)
		if err != nil {
			return eris.Wrap(err, "run")
		}
		zap.L().Info("job started",
			zap.String("job_id", snap.ID),
			zap.Strings("steps", stepStrings(snap.Steps)),
			zap.Int("records", snap.TotalItems),
		)

		final, err := followJob(ctx, env.Registry, snap.ID, os.Stdout)
		if err != nil {
			return err
		}
		if final.Status == model.JobStatusFailed {
			return eris.Errorf("job %s failed: %s", final.ID, final.Error)
		}
		return nil
	},
}

// followJob prints every snapshot of job id until the final one. The first
// interrupt requests a stop; the signal handler is then released so a
// second interrupt terminates the process.
func followJob(ctx context.Context, reg *pipeline.Registry, id string, out io.Writer) (model.Snapshot, error) {
	ch, unsubscribe, err := reg.Subscribe(id)
	if err != nil {
		return model.Snapshot{}, eris.Wrap(err, "run: subscribe")
	}
	defer unsubscribe()

	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	interrupted := sigCtx.Done()

	var last model.Snapshot
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return last, nil
			}
			if !snap.Newer(last) {
				continue
			}
			last = snap
			_, _ = fmt.Fprintln(out, formatProgress(snap))
		case <-interrupted:
			interrupted = nil
			stopSignals()
			_, _ = fmt.Fprintln(os.Stderr, "stopping job, press Ctrl-C again to exit now")
			if _, err := reg.Stop(id); err != nil {
				return last, eris.Wrap(err, "run: stop")
			}
		}
	}
}

// formatProgress renders one snapshot as a single status line.
func formatProgress(s model.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-13s %5.1f%%  %d/%d", truncateID(s.ID), s.Event, s.Percent, s.ProcessedItems, s.TotalItems)
	if s.CurrentStep != "" {
		fmt.Fprintf(&b, "  step=%s", s.CurrentStep)
	}
	for _, sp := range s.StepProgress {
		if sp.Processed > 0 {
			fmt.Fprintf(&b, "  %s=%d/%d(ok %d, failed %d)", sp.Step, sp.Processed, sp.Total, sp.Succeeded, sp.Failed)
		}
	}
	if s.StopRequested && !s.Status.IsTerminal() {
		b.WriteString("  stopping")
	}
	if s.Error != "" {
		fmt.Fprintf(&b, "  error=%q", s.Error)
	}
	return b.String()
}

func runRequestFromFlags(cmd *cobra.Command) (pipeline.StartRequest, error) {
	uploadID, _ := cmd.Flags().GetInt64("upload")
	steps, _ := cmd.Flags().GetStringSlice("steps")
	ids, _ := cmd.Flags().GetInt64Slice("ids")
	emails, _ := cmd.Flags().GetStringSlice("emails")
	websites, _ := cmd.Flags().GetStringSlice("websites")
	skip, _ := cmd.Flags().GetBool("skip-processed")

	if uploadID <= 0 {
		return pipeline.StartRequest{}, eris.New("--upload is required")
	}
	if len(steps) == 0 {
		return pipeline.StartRequest{}, eris.New("--steps is required")
	}
	return pipeline.StartRequest{
		UploadID: uploadID,
		Steps:    steps,
		Filters: model.Filters{
			IDs:           ids,
			Emails:        emails,
			Websites:      websites,
			SkipProcessed: skip,
		},
	}, nil
}

func stepStrings(steps []model.Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.String()
	}
	return out
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("upload", 0, "upload id whose records the job runs over (required)")
	cmd.Flags().StringSlice("steps", nil, "steps to run: classify, discover, verify (required)")
	cmd.Flags().Int64Slice("ids", nil, "only these record ids")
	cmd.Flags().StringSlice("emails", nil, "only records with one of these primary or secondary emails")
	cmd.Flags().StringSlice("websites", nil, "only records with one of these websites")
	cmd.Flags().Bool("skip-processed", false, "skip records already processed for every requested step")
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
