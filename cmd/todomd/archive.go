package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:     "archive <id>",
	GroupID: "tasks",
	Short:   "Hide a task from reads, search and export",
	Long: `Archive a task. Its row is kept, and a snapshot is stored so the task
can be restored later. Archiving an archived task changes nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		res, err := e.st.Archive(ctx, args[0], reason)
		if err != nil {
			return err
		}
		e.out.Success("Archived %s", args[0])
		if res.Degraded {
			e.out.Warn("snapshot could not be written; only the archived flag was set")
		}
		return nil
	}),
}

var restoreCmd = &cobra.Command{
	Use:     "restore <id>",
	GroupID: "tasks",
	Short:   "Bring an archived task back",
	Args:    cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		vclock, err := e.st.Restore(ctx, args[0])
		if err != nil {
			return err
		}
		e.out.Success("Restored %s (vclock %d)", args[0], vclock)
		return nil
	}),
}

var archivedCmd = &cobra.Command{
	Use:     "archived",
	GroupID: "tasks",
	Short:   "List archived tasks, most recent first",
	RunE: withStore(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		tasks, err := e.st.ListArchived(ctx, limit, offset)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, tasks)
		}

		rows := make([][]string, 0, len(tasks))
		for _, t := range tasks {
			rows = append(rows, []string{t.ID, t.ArchivedAt.Format("2006-01-02 15:04"), t.Reason, t.Title})
		}
		e.out.Table([]string{"ID", "ARCHIVED", "REASON", "TITLE"}, rows)
		return nil
	}),
}

var changesCmd = &cobra.Command{
	Use:     "changes",
	GroupID: "advanced",
	Short:   "Read the change feed after a cursor",
	Long: `Print change feed rows with a sequence number above --since, oldest
first. Pass the last printed seq as --since to continue.`,
	RunE: withStore(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetInt64("since")
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		changes, err := e.st.Poll(ctx, since, limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, changes)
		}

		rows := make([][]string, 0, len(changes))
		for _, c := range changes {
			vclock := ""
			if c.Vclock != nil {
				vclock = strconv.FormatInt(*c.Vclock, 10)
			}
			rows = append(rows, []string{strconv.FormatInt(c.Seq, 10), c.Entity, c.EntityID, c.Op, vclock})
		}
		e.out.Table([]string{"SEQ", "ENTITY", "ID", "OP", "VCLOCK"}, rows)
		return nil
	}),
}

func init() {
	archiveCmd.Flags().String("reason", "", "Why the task is archived")

	archivedCmd.Flags().IntP("limit", "n", 50, "Maximum number of tasks")
	archivedCmd.Flags().Int("offset", 0, "Number of tasks to skip")
	archivedCmd.Flags().Bool("json", false, "Output as JSON")

	changesCmd.Flags().Int64("since", 0, "Only rows with a greater seq")
	changesCmd.Flags().IntP("limit", "n", 100, "Maximum number of rows")
	changesCmd.Flags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(archiveCmd, restoreCmd, archivedCmd, changesCmd)
}
