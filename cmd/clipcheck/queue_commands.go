package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"clipcheck/internal/queue"
	"clipcheck/internal/services"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <input-ref>",
		Short: "Add a video reference to the fact-check queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			job, err := store.Enqueue(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s\n", job.ID)
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts per lifecycle state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			health, err := store.Health(cmd.Context())
			if err != nil {
				return err
			}
			rows := [][]string{
				{"pending", strconv.Itoa(health.Pending)},
				{"in_progress", strconv.Itoa(health.InProgress)},
				{"completed", strconv.Itoa(health.Completed)},
				{"failed", strconv.Itoa(health.Failed)},
				{"dead_lettered", strconv.Itoa(health.DeadLettered)},
				{"total", strconv.Itoa(health.Total)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"State", "Jobs"}, rows))
			fmt.Fprintf(cmd.OutOrStdout(), "queue db: %s\n", store.Path())
			return nil
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var statuses []queue.Status
			if statusFlag != "" {
				status, ok := queue.ParseStatus(statusFlag)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFlag)
				}
				statuses = append(statuses, status)
			}
			jobs, err := store.List(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					shortID(job.ID),
					job.InputRef,
					string(job.Status),
					fmt.Sprintf("%d/%d", job.AttemptCount, job.MaxAttempts),
					job.UpdatedAt.Local().Format(time.DateTime),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Input", "Status", "Attempts", "Updated"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by status (pending, in_progress, completed, failed, dead_lettered)")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its result and error trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			job, err := store.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if job == nil {
				return fmt.Errorf("job %s: %w", args[0], services.ErrNotFound)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:        %s\n", job.ID)
			fmt.Fprintf(out, "input:     %s\n", job.InputRef)
			fmt.Fprintf(out, "status:    %s\n", job.Status)
			fmt.Fprintf(out, "attempts:  %d/%d\n", job.AttemptCount, job.MaxAttempts)
			fmt.Fprintf(out, "created:   %s\n", job.CreatedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "updated:   %s\n", job.UpdatedAt.Local().Format(time.DateTime))
			if job.NextAttemptAt != nil {
				fmt.Fprintf(out, "next try:  %s\n", job.NextAttemptAt.Local().Format(time.DateTime))
			}
			if job.LastError != "" {
				fmt.Fprintf(out, "last err:  %s\n", job.LastError)
			}
			for _, record := range job.ErrorTrail {
				fmt.Fprintf(out, "  attempt %d (%s): %s\n",
					record.Attempt, record.OccurredAt.Local().Format(time.DateTime), record.Message)
			}
			if job.ResultJSON != "" {
				fmt.Fprintln(out, "result:")
				fmt.Fprintln(out, indentJSON(job.ResultJSON))
			}
			return nil
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>...",
		Short: "Make failed jobs immediately claimable again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			updated, err := store.RetryNow(cmd.Context(), args...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d job(s) scheduled for immediate retry\n", updated)
			return nil
		},
	}
}

func newDeadLettersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "dead-letters",
		Aliases: []string{"dlq"},
		Short:   "List dead-lettered jobs with their error trails",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			letters, err := store.DeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			if len(letters) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "dead-letter queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(letters))
			for _, letter := range letters {
				lastError := ""
				if n := len(letter.ErrorTrail); n > 0 {
					lastError = letter.ErrorTrail[n-1].Message
				}
				rows = append(rows, []string{
					shortID(letter.JobID),
					letter.InputRef,
					strconv.Itoa(len(letter.ErrorTrail)),
					lastError,
					letter.FailedAt.Local().Format(time.DateTime),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Job", "Input", "Attempts", "Last Error", "Failed"}, rows))
			return nil
		},
	}
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove completed jobs (or all jobs with --all)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var removed int64
			if all {
				removed, err = store.Clear(cmd.Context())
			} else {
				removed, err = store.ClearCompleted(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d job(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Remove every job regardless of status")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func indentJSON(raw string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		return raw
	}
	return buf.String()
}
