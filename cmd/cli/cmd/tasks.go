package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage scheduled maintenance tasks (ADMIN only)",
	Long: `Inspect and drive the scheduled tasks: the document expiration check,
the database backup, log cleanup and lock cleanup. Tasks may be addressed by ID or by name.`,
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		tasks, err := client.ListTasks()
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			cmd.Println("No tasks found. Seed the defaults with: docctl tasks init")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NAME\tID\tSCHEDULE\tSTATUS\tENABLED\tNEXT RUN\tRUNS\tFAILS")
		for _, t := range tasks {
			status := t.Status
			if t.Stale {
				status += " (stale)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%d\t%d\n",
				t.Name, t.ID, t.Schedule, status, t.Enabled,
				t.NextRunAt.Local().Format(time.DateTime), t.RunCount, t.FailCount)
		}
		return w.Flush()
	},
}

var tasksRunCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Execute a task now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		id, err := resolveTask(client, args[0])
		if err != nil {
			return err
		}
		exec, err := client.ExecuteTask(id)
		if err != nil {
			return err
		}
		printExecution(cmd, *exec)
		return nil
	},
}

var tasksProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Run every task that is due",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		report, err := client.ProcessDue()
		if err != nil {
			return err
		}

		cmd.Printf("Processed %d due task(s)\n", report.Processed)
		for _, o := range report.Outcomes {
			line := fmt.Sprintf("  %s %s", colorizeStatus(o.Status), o.Name)
			if o.Error != "" {
				line += fmt.Sprintf(" %s%s%s", colorRed, o.Error, colorReset)
			}
			cmd.Println(line)
		}
		for _, name := range report.Stale {
			cmd.Printf("  %s!%s %s has been running longer than its interval\n", colorYellow, colorReset, name)
		}
		return nil
	},
}

var tasksInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Seed the default tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		created, err := client.InitializeTasks()
		if err != nil {
			return err
		}
		cmd.Printf("Created %d task(s)\n", created)
		return nil
	},
}

func toggleCommand(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [task]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			id, err := resolveTask(client, args[0])
			if err != nil {
				return err
			}
			task, err := client.SetTaskEnabled(id, enabled)
			if err != nil {
				return err
			}
			cmd.Printf("Task %s %sd\n", task.Name, use)
			return nil
		},
	}
}

var tasksHistoryCmd = &cobra.Command{
	Use:   "history [task]",
	Short: "Show recent executions of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		id, err := resolveTask(client, args[0])
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		execs, err := client.TaskHistory(id, limit)
		if err != nil {
			return err
		}
		if len(execs) == 0 {
			cmd.Println("No executions found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "EXECUTION ID\tSTATUS\tSTARTED\tDURATION\tERROR")
		for _, e := range execs {
			duration := "-"
			if e.DurationMs != nil {
				duration = formatDuration(time.Duration(*e.DurationMs) * time.Millisecond)
			}
			errMsg := ""
			if e.Error != nil {
				errMsg = *e.Error
				if len(errMsg) > 50 {
					errMsg = errMsg[:47] + "..."
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.Status, e.StartedAt.Local().Format(time.DateTime), duration, errMsg)
		}
		return w.Flush()
	},
}

// resolveTask accepts a task ID or a task name.
func resolveTask(client *Client, ref string) (string, error) {
	if _, err := uuid.Parse(ref); err == nil {
		return ref, nil
	}
	tasks, err := client.ListTasks()
	if err != nil {
		return "", err
	}
	for _, t := range tasks {
		if t.Name == ref {
			return t.ID, nil
		}
	}
	return "", fmt.Errorf("no task named %q", ref)
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd, tasksRunCmd, tasksProcessCmd, tasksInitCmd, tasksHistoryCmd,
		toggleCommand("enable", "Enable a task", true),
		toggleCommand("disable", "Disable a task", false),
	)

	tasksHistoryCmd.Flags().IntP("limit", "l", 20, "Number of executions to show")
}
