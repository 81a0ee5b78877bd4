package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dahch/task-board-sync/domain"
	"github.com/dahch/task-board-sync/presence"
)

func newListCmd(o *options) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the board",
		Long:  `Print the board as the relay has it, or the cached copy with --offline.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if offline {
				cache, err := o.openCache()
				if err != nil {
					return err
				}
				defer cache.Close()
				tasks, ok, err := cache.Load(cmd.Context())
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "No cached board.")
					return nil
				}
				renderBoard(cmd.OutOrStdout(), tasks, presence.New(presence.Static{TaskList: tasks}), nil)
				return nil
			}
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			current, _ := s.client.CurrentUser()
			renderBoard(cmd.OutOrStdout(), s.client.Tasks(), presence.New(s.client), &current)
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Read the local cache without connecting")
	return cmd
}

func newAddCmd(o *options) *cobra.Command {
	var title, column string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a new task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			col, err := parseColumn(column)
			if err != nil {
				return err
			}
			if title == "" {
				return errors.New("title must not be empty")
			}
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			task := domain.Task{ID: uuid.NewString(), Title: title, Column: col}
			if err := s.client.AddTask(task); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Task created: %s\n", task.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "  Title: %s\n", task.Title)
			fmt.Fprintf(cmd.OutOrStdout(), "  Column: %s\n", task.Column)
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "Task title (required)")
	cmd.Flags().StringVarP(&column, "column", "c", string(domain.ColumnToDo), "Column to place the task in")
	if err := cmd.MarkFlagRequired("title"); err != nil {
		panic(fmt.Sprintf("Failed to mark title flag as required: %v", err))
	}
	return cmd
}

func newMoveCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "move <task-id> <column>",
		Short: "Move a task to another column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			col, err := parseColumn(args[1])
			if err != nil {
				return err
			}
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			task, err := findTask(s.client.Tasks(), args[0])
			if err != nil {
				return err
			}
			task.Column = col
			if err := interact(s, task, domain.ActionMoving); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Task moved: %s → %s\n", task.ID, col)
			return nil
		},
	}
}

func newEditCmd(o *options) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "edit <task-id>",
		Short: "Change a task's title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return errors.New("title must not be empty")
			}
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			task, err := findTask(s.client.Tasks(), args[0])
			if err != nil {
				return err
			}
			task.Title = title
			if err := interact(s, task, domain.ActionEditing); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Task updated: %s\n", task.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "  Title: %s\n", task.Title)
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "New title (required)")
	if err := cmd.MarkFlagRequired("title"); err != nil {
		panic(fmt.Sprintf("Failed to mark title flag as required: %v", err))
	}
	return cmd
}

func newDeleteCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			task, err := findTask(s.client.Tasks(), args[0])
			if err != nil {
				return err
			}
			if err := s.client.DeleteTask(task.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Task deleted: %s\n", task.ID)
			return nil
		},
	}
}

// interact announces the action, applies the update and clears the
// announcement, the way a drag or an inline edit does.
func interact(s *session, task domain.Task, action domain.InteractionAction) error {
	if err := s.client.EmitTaskInteraction(task.ID, domain.ActionPtr(action)); err != nil {
		return err
	}
	if err := s.client.UpdateTask(task); err != nil {
		return err
	}
	return s.client.EmitTaskInteraction(task.ID, nil)
}
