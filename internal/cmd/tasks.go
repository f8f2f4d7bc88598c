package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/warden-io/warden/internal/config"
	"github.com/warden-io/warden/internal/task"
)

var tasksLimit int

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Query stored tasks by trace identifier",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent tasks",
	RunE:  tasksList,
}

var tasksGetCmd = &cobra.Command{
	Use:   "get [trace-id]",
	Short: "Show one task",
	Args:  cobra.ExactArgs(1),
	RunE:  tasksGet,
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete [trace-id]",
	Short: "Delete a task record (the audit trail is kept)",
	Args:  cobra.ExactArgs(1),
	RunE:  tasksDelete,
}

func init() {
	tasksListCmd.Flags().IntVar(&tasksLimit, "limit", 20, "Maximum tasks to show")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksGetCmd)
	tasksCmd.AddCommand(tasksDeleteCmd)
	rootCmd.AddCommand(tasksCmd)
}

func openTaskStore() (*task.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return task.NewStore(cfg.TasksDBPath())
}

func tasksList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openTaskStore()
	if err != nil {
		return fmt.Errorf("initializing task store: %w", err)
	}
	defer store.Close()

	tasks, err := store.List(ctx, tasksLimit)
	if err != nil {
		return fmt.Errorf("querying tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}
	renderTaskList(os.Stdout, tasks)
	return nil
}

func tasksGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openTaskStore()
	if err != nil {
		return fmt.Errorf("initializing task store: %w", err)
	}
	defer store.Close()

	t, err := store.Get(ctx, args[0])
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			fmt.Printf("No task found for %s.\n", args[0])
			return nil
		}
		return fmt.Errorf("querying task: %w", err)
	}
	renderTaskList(os.Stdout, []task.Task{*t})
	return nil
}

func tasksDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openTaskStore()
	if err != nil {
		return fmt.Errorf("initializing task store: %w", err)
	}
	defer store.Close()

	if err := store.Delete(ctx, args[0]); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return fmt.Errorf("no task found for %s", args[0])
		}
		return fmt.Errorf("deleting task: %w", err)
	}
	fmt.Printf("Deleted task for %s.\n", args[0])
	return nil
}

// renderTaskList writes task lines to w (testable).
func renderTaskList(w io.Writer, tasks []task.Task) {
	fmt.Fprintf(w, "Tasks (showing %d):\n\n", len(tasks))
	for i := range tasks {
		t := &tasks[i]
		exec := "-"
		if t.Execution != nil {
			exec = t.Execution.Status
		}
		fmt.Fprintf(w, "  %s | %-12s | %-9s | exec=%-7s | %s\n",
			t.TraceID,
			t.TaskType,
			t.Status,
			exec,
			t.UpdatedAt.Format("2006-01-02 15:04:05"),
		)
	}
}
