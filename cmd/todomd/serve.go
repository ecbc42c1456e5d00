package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/todomd/internal/feed"
	"github.com/Mschirtzinger/todomd/internal/gitsync"
	"github.com/Mschirtzinger/todomd/internal/projection"
	"github.com/Mschirtzinger/todomd/internal/sections"
	"github.com/Mschirtzinger/todomd/internal/vcs/git"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Run the change feed server and git sync worker",
	Long: `Start the todomd server.

The server keeps a shadow Markdown export of the store on disk, serves the
change feed over WebSocket, and commits TODO.md plus the .specify files to
git whenever the shadow changes.

Endpoints:
  ws://localhost:8765/ws        live change feed (?entity=task&id=T-1 to filter)
  GET  /changes?since=N         cursor polling of the same feed
  GET  /health                  counts and latest seq
  GET  /sections/{name}         PLAN, CONTRACT, TEST or TASKS
  PATCH /sections/{name}        versioned line patches
  POST /sync                    force a git sync
  GET  /                        HTML preview of the document

Example usage:
  todomd serve                      # Listen on :8765, sync the current repo
  todomd serve --port 9000 --no-git`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		shadowConfig := projection.DefaultShadowConfig(e.cfg.Shadow())
		shadowConfig.Logger = e.sink.Logger("shadow")
		shadow, err := projection.NewShadow(e.st, shadowConfig)
		if err != nil {
			return err
		}
		if err := shadow.Start(ctx); err != nil {
			return fmt.Errorf("failed to start shadow writer: %w", err)
		}
		defer shadow.Stop()

		feedConfig := &feed.Config{
			Addr:     fmt.Sprintf(":%d", e.cfg.Port),
			Store:    e.st,
			Sections: sections.New(e.st),
			Logger:   e.sink.Logger("feed"),
		}

		if e.cfg.Git.Enabled {
			worker, err := startWorker(ctx, e)
			if err != nil {
				e.out.Warn("git sync disabled: %v", err)
			} else {
				defer worker.Stop()
				feedConfig.Syncer = worker
			}
		}

		server, err := feed.NewServer(feedConfig)
		if err != nil {
			return err
		}
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start feed server: %w", err)
		}

		e.out.Success("Serving on http://localhost:%d", e.cfg.Port)
		e.out.Fields(
			[2]string{"database", e.st.Path()},
			[2]string{"shadow", e.cfg.Shadow()},
			[2]string{"websocket", fmt.Sprintf("ws://localhost:%d/ws", e.cfg.Port)},
		)
		e.out.Println(e.out.Muted("Press Ctrl+C to stop..."))

		<-ctx.Done()

		e.out.Println("Shutting down...")
		return server.Stop()
	},
}

// newWorker builds a git sync worker for the repository containing
// cfg.RepoRoot(), creating the repository when there is none.
func newWorker(ctx context.Context, e *env) (*gitsync.Worker, error) {
	repo, err := git.Init(ctx, e.cfg.RepoRoot(), e.cfg.Git.Branch)
	if err != nil {
		return nil, err
	}
	root, err := repo.RepoRoot()
	if err != nil {
		return nil, err
	}

	return gitsync.NewWithConfig(repo, gitsync.StoreProjector(e.st, root, e.cfg.SpecifyDir), &gitsync.Config{
		ShadowPath:      e.cfg.Shadow(),
		Debounce:        e.cfg.Git.Debounce,
		PollInterval:    e.cfg.EffectivePollInterval(),
		CommitOnWrite:   e.cfg.Git.CommitOnWrite,
		AutoPush:        e.cfg.Git.AutoPush,
		Remote:          e.cfg.Git.Remote,
		Branch:          e.cfg.Git.Branch,
		MessageTemplate: e.cfg.Git.MessageTemplate,
		Signoff:         e.cfg.Git.Signoff,
		Logger:          e.sink.Logger("git-sync"),
	})
}

func startWorker(ctx context.Context, e *env) (*gitsync.Worker, error) {
	w, err := newWorker(ctx, e)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "server",
	Short:   "Project the store and commit it to git once",
	Long: `Run one git sync immediately: write TODO.md and the .specify files,
stage them, and commit when they changed. Pushes when auto_push is set.`,
	RunE: withStore(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		if !e.cfg.Git.Enabled {
			return fmt.Errorf("git sync is disabled")
		}
		w, err := newWorker(ctx, e)
		if err != nil {
			return err
		}
		defer w.Stop()

		out, err := w.ForceSync(ctx, reason)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, out)
		}

		switch {
		case !out.OK:
			e.out.Error("sync failed: %s", out.Error)
		case out.Committed:
			e.out.Success("Committed %d files", len(out.Projection.Files()))
			e.out.Println(e.out.Muted(out.CommitMessage))
		default:
			e.out.Success("Nothing to commit (%s)", out.SkippedReason)
		}
		if out.Committed && e.cfg.Git.AutoPush && !out.Pushed {
			e.out.Warn("push failed; the commit is kept locally")
		}
		if !out.OK {
			return fmt.Errorf("sync failed: %s", out.Error)
		}
		return nil
	}),
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8765, "Port to listen on")
	serveCmd.Flags().String("repo", "", "Git repository to sync (default: current directory)")
	serveCmd.Flags().String("branch", "", "Branch to push (default: current branch)")
	serveCmd.Flags().Bool("no-git", false, "Do not commit projections to git")

	syncCmd.Flags().String("repo", "", "Git repository to sync (default: current directory)")
	syncCmd.Flags().String("branch", "", "Branch to push (default: current branch)")
	syncCmd.Flags().String("reason", "manual", "Reason recorded with the sync")
	syncCmd.Flags().Bool("json", false, "Output the outcome as JSON")

	rootCmd.AddCommand(serveCmd, syncCmd)
}
