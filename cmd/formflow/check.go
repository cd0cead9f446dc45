package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errInconsistent = errors.New("inconsistent tasks found")

type checkOptions struct {
	taskType  string
	status    string
	companyID int64
	asJSON    bool
}

func (o checkOptions) filter() repository.TaskFilter {
	return repository.TaskFilter{
		TaskType:  entity.NormalizeFormType(o.taskType),
		Status:    o.status,
		CompanyID: o.companyID,
	}
}

func newCheckCommand(opts *rootOptions) *cobra.Command {
	var co checkOptions
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report tasks whose status, progress or submission record disagree",
		Long: `Inspect tasks for consistency problems without changing them.

The command exits non-zero when any issue is found, so it can run as a
scheduled job.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()
			svc, _, err := a.services(ctx, nil)
			if err != nil {
				return err
			}

			report, err := svc.Consistency.Check(ctx, co.filter())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if co.asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TASK\tKIND\tSTORED\tCOMPUTED\tDETAIL")
				for _, is := range report.Issues {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", is.TaskID, is.Kind, is.Stored, is.Computed, is.Detail)
				}
				w.Flush()
				fmt.Fprintf(out, "\n%d tasks checked, %d issues\n", report.Checked, len(report.Issues))
			}
			if len(report.Issues) > 0 {
				return fmt.Errorf("%w: %d", errInconsistent, len(report.Issues))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&co.taskType, "task-type", "", "only tasks of this form type")
	cmd.Flags().StringVar(&co.status, "status", "", "only tasks in this status")
	cmd.Flags().Int64Var(&co.companyID, "company", 0, "only tasks of this company")
	cmd.Flags().BoolVar(&co.asJSON, "json", false, "print the report as JSON")
	return cmd
}

func newRepairCommand(opts *rootOptions) *cobra.Command {
	var (
		co       checkOptions
		all      bool
		operator string
	)
	cmd := &cobra.Command{
		Use:   "repair [task-id...]",
		Short: "Recompute status and progress of inconsistent tasks",
		Long: `Repair the given tasks, or with --all every task the check command
reports. Each repair is logged as a task action and broadcast to clients.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return errors.New("give task ids or --all")
			}
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid task id %q", arg)
				}
				ids = append(ids, id)
			}

			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()
			svc, _, err := a.services(ctx, nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if all {
				report, err := svc.Consistency.Check(ctx, co.filter())
				if err != nil {
					return err
				}
				n, err := svc.Consistency.RepairAll(ctx, report, operator)
				fmt.Fprintf(out, "%d of %d inconsistent tasks repaired\n", n, len(report.TaskIDs()))
				return err
			}

			var errs []error
			for _, id := range ids {
				task, tr, err := svc.Consistency.Repair(ctx, id, operator)
				if err != nil {
					a.logger.Error("Repair failed", zap.Int64("task_id", id), zap.Error(err))
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(out, "task %d: %s %d%% -> %s %d%%\n", id, tr.FromStatus, tr.FromProgress, task.Status, task.Progress)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "repair every task the check reports")
	cmd.Flags().StringVar(&co.taskType, "task-type", "", "with --all, only tasks of this form type")
	cmd.Flags().StringVar(&co.status, "status", "", "with --all, only tasks in this status")
	cmd.Flags().Int64Var(&co.companyID, "company", 0, "with --all, only tasks of this company")
	cmd.Flags().StringVar(&operator, "operator", "cli", "operator recorded in the action log")
	return cmd
}
