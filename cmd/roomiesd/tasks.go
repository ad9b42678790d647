package main

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/roomies-app/roomies-sync/internal/api"
	configpkg "github.com/roomies-app/roomies-sync/internal/config"
	"github.com/roomies-app/roomies-sync/internal/engine"
	"github.com/roomies-app/roomies-sync/internal/model"
	storepkg "github.com/roomies-app/roomies-sync/internal/store"
	"github.com/roomies-app/roomies-sync/internal/track"
)

var (
	flagTaskDescription string
	flagTaskPriority    int
	flagTaskPoints      int
	flagTaskDue         string
	flagTaskAssignee    string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Local-first task operations",
	Long: `Create, list, complete and delete tasks.

All operations apply to the local store immediately and mark the record
for upload; when the service is reachable a sync cycle runs right after.
Offline mutations simply stay pending until the next successful cycle.`,
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cmd, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		household, err := st.CurrentHousehold(cmd.Context())
		if err != nil {
			return err
		}

		creds := credStore(cfg)
		userID := ""
		if c, _ := creds.Load(); c != nil {
			userID = c.UserID
		}

		task := &model.Task{
			Title:          args[0],
			Description:    flagTaskDescription,
			Priority:       flagTaskPriority,
			Points:         flagTaskPoints,
			AssignedUserID: flagTaskAssignee,
			CreatedBy:      userID,
		}
		if household != nil {
			task.HouseholdID = household.ID
		}
		if flagTaskDue != "" {
			due, err := parseDue(flagTaskDue, time.Now())
			if err != nil {
				return err
			}
			task.DueDate = due
		}

		tracker := track.New()
		tracker.AssignLocalID(task)
		tracker.MarkDirty(task)

		if err := st.SaveTask(cmd.Context(), task); err != nil {
			return err
		}

		fmt.Printf("Created %s: %s\n", task.Key(), task.Title)
		syncAfterMutation(cmd, cfg, st)
		return nil
	},
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks in the current household",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cmd, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		household, err := st.CurrentHousehold(cmd.Context())
		if err != nil {
			return err
		}
		if household == nil {
			fmt.Println("Not in a household yet. Run 'roomiesd sync' after joining one.")
			return nil
		}

		tasks, err := st.ListTasks(cmd.Context(), household.ID)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return nil
		}

		for _, t := range tasks {
			mark := " "
			if t.IsCompleted {
				mark = "x"
			}
			pending := ""
			if t.NeedsSync {
				pending = " (pending sync)"
			}
			fmt.Printf("[%s] %-12s %s%s\n", mark, t.Key(), t.Title, pending)
		}
		return nil
	},
}

var tasksDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cmd, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		task, err := st.GetTask(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("no task %s", args[0])
		}

		now := time.Now().UTC()
		task.IsCompleted = true
		task.CompletedAt = &now
		track.New().MarkDirty(task)

		if err := st.SaveTask(cmd.Context(), task); err != nil {
			return err
		}

		fmt.Printf("Completed %s: %s\n", task.Key(), task.Title)
		syncAfterMutation(cmd, cfg, st)
		return nil
	},
}

var tasksRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a task",
	Long: `Delete a task.

A task that has synced before is removed locally only after the service
confirms the delete; until then it is hidden from listings and the delete
is retried on every cycle. A never-synced task is removed immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cmd, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		task, err := st.GetTask(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("no task %s", args[0])
		}

		if !task.Synced() {
			// Never reached the server; nothing to confirm.
			if err := st.DeleteTask(cmd.Context(), task.Key()); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", task.Key())
			return nil
		}

		task.PendingDelete = true
		track.New().MarkDirty(task)
		if err := st.SaveTask(cmd.Context(), task); err != nil {
			return err
		}

		fmt.Printf("Marked %s for deletion\n", task.Key())
		syncAfterMutation(cmd, cfg, st)
		return nil
	},
}

// parseDue resolves a --due value: an RFC 3339 timestamp as-is, anything
// else through natural-language parsing relative to base.
func parseDue(input string, base time.Time) (*time.Time, error) {
	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return &t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	result, err := w.Parse(input, base)
	if err != nil || result == nil {
		return nil, fmt.Errorf("could not understand due date %q (try RFC 3339 or e.g. \"tomorrow 6pm\")", input)
	}
	t := result.Time.UTC()
	return &t, nil
}

// syncAfterMutation runs one best-effort cycle. Failure is not an error
// for the user: the record stays pending and the daemon (or the next
// command) picks it up.
func syncAfterMutation(cmd *cobra.Command, cfg *configpkg.Config, st *storepkg.Store) {
	eng := engine.New(st, newClient(cfg, credStore(cfg), nil), nil, &engine.Config{
		Interval: cfg.SyncInterval,
		Logger:   componentLogger("sync"),
	})
	if err := eng.Sync(cmd.Context()); err != nil {
		if api.IsNetworkUnavailable(err) {
			fmt.Println("Offline; change will sync when the service is reachable.")
			return
		}
		fmt.Printf("Sync deferred: %v\n", err)
	}
}

func init() {
	tasksAddCmd.Flags().StringVar(&flagTaskDescription, "description", "", "task description")
	tasksAddCmd.Flags().IntVar(&flagTaskPriority, "priority", 0, "task priority")
	tasksAddCmd.Flags().IntVar(&flagTaskPoints, "points", 0, "points awarded on completion")
	tasksAddCmd.Flags().StringVar(&flagTaskDue, "due", "", `due date (RFC 3339 or natural language, e.g. "tomorrow 6pm")`)
	tasksAddCmd.Flags().StringVar(&flagTaskAssignee, "assignee", "", "assigned user id")

	tasksCmd.AddCommand(tasksAddCmd)
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksDoneCmd)
	tasksCmd.AddCommand(tasksRmCmd)
	rootCmd.AddCommand(tasksCmd)
}
