package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/todomd/internal/config"
	"github.com/Mschirtzinger/todomd/internal/logging"
	"github.com/Mschirtzinger/todomd/internal/store"
	"github.com/Mschirtzinger/todomd/internal/ui"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "todomd",
	Short: "Task tracker backed by SQLite and projected to TODO.md",
	Long: `todomd keeps tasks, issues and reviews in a local SQLite database and
renders them as a Markdown TODO document plus per-task .specify files.

The server publishes every change on a WebSocket feed and can commit the
rendered files to git as they change.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./todomd.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "Directory holding the database and blobs")
	rootCmd.PersistentFlags().String("log-file", "", "Also write logs to this file, rotated by size")

	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Task Commands:"},
		&cobra.Group{ID: "server", Title: "Server Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env is what a command needs to talk to the store.
type env struct {
	cfg  *config.Config
	sink *logging.Sink
	st   *store.Store
	out  *ui.Printer
}

// setup loads the config and opens the store. The caller must close it.
func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}

	sink, err := logging.Open(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Stderr:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DBPath(), &store.Options{
		BlobDir: cfg.BlobDir(),
		Logger:  sink.Logger("store"),
	})
	if err != nil {
		_ = sink.Close()
		return nil, err
	}
	if err := st.InitSchema(cmd.Context()); err != nil {
		_ = st.Close()
		_ = sink.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &env{cfg: cfg, sink: sink, st: st, out: ui.NewPrinter(cmd.OutOrStdout())}, nil
}

func (e *env) Close() {
	_ = e.st.Close()
	_ = e.sink.Close()
}

// withStore runs fn against an opened store.
func withStore(fn func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(cmd.Context(), e, cmd, args)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
