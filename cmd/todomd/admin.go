package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Mschirtzinger/todomd/internal/config"
	"github.com/Mschirtzinger/todomd/internal/projection"
	"github.com/Mschirtzinger/todomd/internal/ui"
	"github.com/Mschirtzinger/todomd/internal/vcs/git"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "advanced",
	Short:   "Show database and repository status",
	RunE: withStore(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		live, archived, err := e.st.Count(ctx)
		if err != nil {
			return err
		}
		seq, err := e.st.LatestSeq(ctx)
		if err != nil {
			return err
		}

		e.out.Title("Store")
		e.out.Fields(
			[2]string{"database", e.st.Path()},
			[2]string{"tasks", strconv.Itoa(live)},
			[2]string{"archived", strconv.Itoa(archived)},
			[2]string{"latest seq", strconv.FormatInt(seq, 10)},
		)
		if err := e.st.CheckIndex(ctx); err != nil {
			e.out.Warn("search index: %v (run \"todomd reindex\")", err)
		}

		e.out.Title("Git")
		if !e.cfg.Git.Enabled {
			e.out.Println(e.out.Muted("  disabled"))
			return nil
		}
		repo, err := git.New(e.cfg.RepoRoot())
		if err != nil {
			e.out.Println(e.out.Muted("  no repository at " + e.cfg.RepoRoot()))
			return nil
		}
		root, _ := repo.RepoRoot()
		gitDir, _ := repo.VCSDir()
		ref, _ := repo.CurrentRef()
		commits, _ := repo.CommitCount(ctx)
		fields := [][2]string{
			{"root", root},
			{"git dir", gitDir},
			{"worktree", strconv.FormatBool(repo.IsWorktree())},
			{"branch", ref},
			{"commits", strconv.Itoa(commits)},
			{"remote", strconv.FormatBool(repo.HasRemote())},
		}
		if version, err := repo.Version(); err == nil {
			fields = append(fields, [2]string{"version", version})
		}
		if log, err := repo.Log(ctx, 1); err == nil && len(log) > 0 {
			fields = append(fields, [2]string{"last commit", log[0].Subject})
		}
		if dirty, err := repo.HasChanges(ctx); err == nil {
			fields = append(fields, [2]string{"dirty", strconv.FormatBool(dirty)})
		}
		e.out.Fields(fields...)

		statuses, err := repo.Status(ctx, managedPaths(root, e.cfg.SpecifyDir)...)
		if err != nil {
			return err
		}
		if len(statuses) > 0 {
			e.out.Title("Unsynced")
			for _, fs := range statuses {
				e.out.Println(fmt.Sprintf("  %s%s %s", fs.StagedCode, fs.Status, fs.Path))
			}
		}
		return nil
	}),
}

// managedPaths returns the pathspecs, relative to root, of the files a git
// sync writes.
func managedPaths(root, specifyDir string) []string {
	paths := []string{projection.TodoFile}
	if specifyDir == "" {
		specifyDir = projection.DefaultSpecifyDir
	}
	if filepath.IsAbs(specifyDir) {
		rel, err := filepath.Rel(root, specifyDir)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return paths
		}
		specifyDir = rel
	}
	return append(paths, filepath.ToSlash(specifyDir))
}

var reindexCmd = &cobra.Command{
	Use:     "reindex",
	GroupID: "advanced",
	Short:   "Rebuild the full-text search index",
	RunE: withStore(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		if err := e.st.Reindex(ctx); err != nil {
			return err
		}
		if err := e.st.CheckIndex(ctx); err != nil {
			return fmt.Errorf("index check failed after rebuild: %w", err)
		}
		e.out.Success("Search index rebuilt")
		return nil
	}),
}

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the default settings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.FileName
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		ui.NewPrinter(cmd.OutOrStdout()).Success("Wrote %s", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath, cmd.Flags())
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	statusCmd.Flags().String("repo", "", "Git repository to inspect (default: current directory)")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(statusCmd, reindexCmd, configCmd)
}
