package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solarhq/solar/internal/logging"
	"github.com/solarhq/solar/internal/tasks"
)

// RunTaskCmd creates the run-task command: execute one task file.
func RunTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-task <task-file>",
		Short: "Execute one asynchronous task file",
		Long: `Execute a markdown task file through the router. On success the task
moves to the sibling done/ directory; on failure it is marked with an
error block and moved to error/. An execution log is written under the
task root's logs/ directory.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signalContext()
			defer cancel()
			if err := newExecutor().Execute(ctx, args[0]); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		},
	}
}

// WatchCmd creates the watch command: the active-task directory watcher.
func WatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the active task directory and execute tasks",
		Long: `Watch <tasks dir>/active for task files with status: active and run
each through the executor. Filesystem events trigger immediately; a
periodic rescan catches anything missed.`,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signalContext()
			defer cancel()
			w := tasks.NewWatcher(Cfg.TasksDir, Cfg.ScanSchedule, newExecutor())
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				logging.Errorf("task watcher: %v", err)
				os.Exit(1)
			}
		},
	}
}

func newExecutor() *tasks.Executor {
	return tasks.NewExecutor(Cfg.RouterCmd, Cfg.RouterTimeout, Cfg.RepoRoot)
}
