package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/todomd/internal/markdown"
	"github.com/Mschirtzinger/todomd/internal/projection"
	"github.com/Mschirtzinger/todomd/internal/search"
)

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "tasks",
	Short:   "Import a Markdown TODO document",
	Long: `Parse a TODO document and upsert every task block it contains.

Use "-" to read from stdin. Unparseable fragments are reported as warnings
and skipped; the rest of the document is still imported.`,
	Args: cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		by, _ := cmd.Flags().GetString("by")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		var in io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		res, err := markdown.Import(ctx, e.st, in, &markdown.ImportOptions{
			By:     by,
			Logger: e.sink.Logger("markdown"),
		})
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd, res)
		}

		e.out.Success("Imported %d tasks", res.Tasks)
		e.out.Fields(
			[2]string{"issues", strconv.Itoa(res.Issues)},
			[2]string{"responses", strconv.Itoa(res.Responses)},
			[2]string{"reviews", strconv.Itoa(res.Reviews)},
			[2]string{"comments", strconv.Itoa(res.Comments)},
		)
		for _, w := range res.Warnings {
			e.out.Warn("%s", w)
		}
		return nil
	}),
}

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "tasks",
	Short:   "Render all live tasks as a Markdown document",
	RunE: withStore(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		title, _ := cmd.Flags().GetString("title")
		omitInternal, _ := cmd.Flags().GetBool("omit-internal")

		opts := &markdown.ExportOptions{Title: title, OmitInternal: omitInternal}
		if output == "" {
			return markdown.Export(ctx, e.st, cmd.OutOrStdout(), opts)
		}

		var doc bytes.Buffer
		if err := markdown.Export(ctx, e.st, &doc, opts); err != nil {
			return err
		}
		if err := atomic.WriteFile(output, &doc); err != nil {
			return fmt.Errorf("failed to write %s: %w", output, err)
		}
		e.out.Success("Wrote %s", output)
		return nil
	}),
}

var projectCmd = &cobra.Command{
	Use:     "project",
	GroupID: "tasks",
	Short:   "Write TODO.md and the .specify files",
	Long: `Render the store into a directory: TODO.md at its root, plus
requirements and test case files for every task that carries spec material.
Files whose content has not changed are left untouched.`,
	RunE: withStore(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")

		res, err := projection.ProjectAll(ctx, e.st, dir, e.cfg.SpecifyDir)
		if err != nil {
			return err
		}
		for _, f := range res.Files() {
			e.out.Println(f)
		}
		e.out.Success("%d of %d files changed", res.Written, len(res.Files()))
		return nil
	}),
}

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "tasks",
	Short:   "List recently updated tasks",
	RunE: withStore(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		tasks, err := e.st.ListRecent(ctx, limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, tasks)
		}

		rows := make([][]string, 0, len(tasks))
		for _, t := range tasks {
			done := " "
			if t.Done {
				done = "x"
			}
			rows = append(rows, []string{t.ID, done, t.State, t.Title})
		}
		e.out.Table([]string{"ID", "DONE", "STATE", "TITLE"}, rows)
		return nil
	}),
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "tasks",
	Short:   "Show one task",
	Args:    cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		t, err := e.st.Get(ctx, args[0], true)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, t)
		}

		e.out.Title(t.ID + " " + t.Title)
		fields := [][2]string{
			{"state", t.State},
			{"done", strconv.FormatBool(t.Done)},
		}
		if t.ParentID != "" {
			fields = append(fields, [2]string{"parent", t.ParentID})
		}
		if t.Assignee != "" {
			fields = append(fields, [2]string{"assignee", t.Assignee})
		}
		if t.DueAt != nil {
			fields = append(fields, [2]string{"due", t.DueAt.Format("2006-01-02")})
		}
		if t.Archived {
			fields = append(fields, [2]string{"archived", "true"})
		}
		e.out.Fields(fields...)
		if text := strings.TrimSpace(t.Text); text != "" {
			e.out.Println("")
			e.out.Println(text)
		}
		return nil
	}),
}

var searchCmd = &cobra.Command{
	Use:     "search <query>",
	GroupID: "tasks",
	Short:   "Full-text search over live tasks",
	Long: `Search titles, bodies and metadata of live tasks, best match first.

The query uses SQLite FTS5 syntax: words, "quoted phrases", prefix*,
AND/OR/NOT. Pass --literal to match the words as typed, for text such as
T-1 or key:value that FTS5 would otherwise parse as syntax.`,
	Args: cobra.MinimumNArgs(1),
	RunE: withStore(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		highlight, _ := cmd.Flags().GetBool("highlight")
		literal, _ := cmd.Flags().GetBool("literal")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		text := strings.Join(args, " ")
		if literal {
			text = search.Escape(text)
		}
		hits, err := e.st.Search(ctx, search.Query{
			Text:      text,
			Limit:     limit,
			Offset:    offset,
			Highlight: highlight,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, hits)
		}
		if len(hits) == 0 {
			e.out.Println(e.out.Muted("No matches"))
			return nil
		}

		rows := make([][]string, 0, len(hits))
		for _, h := range hits {
			rows = append(rows, []string{h.ID, strconv.FormatFloat(h.Score, 'f', 3, 64), h.Title})
		}
		e.out.Table([]string{"ID", "SCORE", "TITLE"}, rows)
		if highlight {
			for _, h := range hits {
				if h.Snippet != "" {
					e.out.Println(h.ID + ": " + e.out.Muted(h.Snippet))
				}
			}
		}
		return nil
	}),
}

func init() {
	importCmd.Flags().String("by", "import", "Actor recorded for state changes")
	importCmd.Flags().Bool("json", false, "Output the import summary as JSON")

	exportCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
	exportCmd.Flags().String("title", markdown.DefaultTitle, "Document heading")
	exportCmd.Flags().Bool("omit-internal", false, "Leave internal issue responses out")

	projectCmd.Flags().String("dir", ".", "Directory to project into")

	listCmd.Flags().IntP("limit", "n", 20, "Maximum number of tasks")
	listCmd.Flags().Bool("json", false, "Output as JSON")

	showCmd.Flags().Bool("json", false, "Output as JSON")

	searchCmd.Flags().IntP("limit", "n", search.DefaultLimit, "Maximum number of hits")
	searchCmd.Flags().Int("offset", 0, "Number of hits to skip")
	searchCmd.Flags().Bool("highlight", false, "Show matching snippets")
	searchCmd.Flags().Bool("literal", false, "Match the words as typed instead of parsing FTS5 syntax")
	searchCmd.Flags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(importCmd, exportCmd, projectCmd, listCmd, showCmd, searchCmd)
}
