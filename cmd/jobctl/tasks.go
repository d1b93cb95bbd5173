package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/internal/classify"
	"github.com/kiranshivaraju/valuecalc/internal/jobs"
	"github.com/kiranshivaraju/valuecalc/internal/task"
	"github.com/kiranshivaraju/valuecalc/internal/workflow"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
	"github.com/spf13/cobra"
)

func newTaskCommand(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and execute tasks",
	}
	cmd.AddCommand(newTaskStatusCommand(open))
	cmd.AddCommand(newTaskRunCommand(open))
	cmd.AddCommand(newTaskContinueCommand(open))
	return cmd
}

func newTaskStatusCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a task with its step logs or work item counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			b, err := open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer b.close()

			t, err := b.store.GetTaskByID(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("load task: %w", err)
			}
			out := cmd.OutOrStdout()
			printTask(out, t)

			switch t.Kind {
			case models.TaskKindCalculation:
				logs, err := b.store.ListStepLogs(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printStepLogs(out, logs)
			case models.TaskKindClassification:
				items, err := b.store.ListWorkItems(cmd.Context(), id)
				if err != nil {
					return err
				}
				printItemCounts(out, items)
			}
			return nil
		},
	}
}

func newTaskRunCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "run <task-id>",
		Short: "Run a pending task in this process and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			b, err := open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer b.close()

			t, err := b.store.GetTaskByID(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("load task: %w", err)
			}
			if t.Status != models.TaskStatusPending {
				return fmt.Errorf("task %s is %s; only pending tasks can be run", id, t.Status)
			}
			return execute(cmd.Context(), cmd.OutOrStdout(), b, t)
		},
	}
}

func newTaskContinueCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "continue <task-id>",
		Short: "Continue a failed or paused classification task and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			b, err := open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer b.close()

			t, err := b.store.GetTaskByID(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("load task: %w", err)
			}
			_, engine := engines(b)
			t, err = engine.Continue(cmd.Context(), t.TenantID, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s continued\n", id)
			return execute(cmd.Context(), cmd.OutOrStdout(), b, t)
		},
	}
}

func engines(b *backend) (*task.Tracker, *classify.Engine) {
	tracker := task.NewTracker(b.store, b.cache, b.cfg.Redis.StatusTTL, b.logger)
	return tracker, classify.NewEngine(b.store, b.classifier, tracker, classify.SettingsFrom(b.cfg.Classify), b.logger)
}

// execute runs t on a one-worker dispatcher so the configured timeouts and
// panic handling apply exactly as they do in the server.
func execute(ctx context.Context, out io.Writer, b *backend, t *models.Task) error {
	tracker, engine := engines(b)
	executor := workflow.NewExecutor(b.store, b.pools, tracker, workflow.WithLogger(b.logger))

	opts := jobs.OptionsFrom(b.cfg.Jobs)
	opts.Workers, opts.QueueSize = 1, 1
	d := jobs.NewDispatcher(opts, tracker, b.logger)
	d.Register(models.TaskKindCalculation, jobs.CalculationHandler(b.store, executor))
	d.Register(models.TaskKindClassification, jobs.ClassificationHandler(b.store, engine))
	d.Start()

	h, err := d.Submit(t.Kind, t.ID, t.TenantID, map[string]string{"trigger": "cli"})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Running %s task %s...\n", t.Kind, t.ID)

	select {
	case <-h.Done():
		if err := d.Shutdown(ctx); err != nil {
			return err
		}
	case <-ctx.Done():
		// An expired context makes Shutdown cancel the running job and wait
		// for it to record its failure.
		expired, cancel := context.WithCancel(context.Background())
		cancel()
		_ = d.Shutdown(expired)
	}

	final, err := b.store.GetTaskByID(context.WithoutCancel(ctx), t.ID)
	if err != nil {
		return fmt.Errorf("reload task: %w", err)
	}
	printTask(out, final)
	if jobErr := h.Err(); jobErr != nil && !errors.Is(jobErr, context.Canceled) {
		return fmt.Errorf("task %s %s: %w", t.ID, final.Status, jobErr)
	}
	if final.Status == models.TaskStatusFailed {
		return fmt.Errorf("task %s failed", t.ID)
	}
	return ctx.Err()
}

func parseTaskID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func printTask(out io.Writer, t *models.Task) {
	fmt.Fprintf(out, "Task %s: %s\n", t.ID, t.Name)
	fmt.Fprintf(out, "Kind: %s\n", t.Kind)
	fmt.Fprintf(out, "Status: %s\n", t.Status)
	fmt.Fprintf(out, "Progress: %.2f%%\n", t.Progress)
	if t.Kind == models.TaskKindClassification {
		fmt.Fprintf(out, "Items: %d total, %d processed, %d failed\n", t.TotalItems, t.ProcessedItems, t.FailedItems)
	}
	if t.ErrorMessage != nil {
		fmt.Fprintf(out, "Error: %s\n", *t.ErrorMessage)
	}
}

func printStepLogs(out io.Writer, logs []*models.StepExecutionLog) error {
	if len(logs) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nSTEP\tUNIT\tSTATUS\tDURATION\tROWS")
	for _, l := range logs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%dms\t%d\n", l.StepName, l.UnitName, l.Status, l.DurationMS, l.AffectedRows)
	}
	return w.Flush()
}

func printItemCounts(out io.Writer, items []*models.WorkItem) {
	counts := map[models.WorkItemStatus]int{}
	for _, it := range items {
		counts[it.Status]++
	}
	fmt.Fprintf(out, "Work items: %d pending, %d processing, %d completed, %d failed\n",
		counts[models.WorkItemPending], counts[models.WorkItemProcessing],
		counts[models.WorkItemCompleted], counts[models.WorkItemFailed])
}
