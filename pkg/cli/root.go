// Package cli is the timeline command tree. With no subcommand it opens the
// terminal editor; the subcommands are one-shot and flush their remote write
// before exiting.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/astromechza/timeline/pkg/config"
	"github.com/astromechza/timeline/pkg/localcache"
	"github.com/astromechza/timeline/pkg/remote"
	"github.com/astromechza/timeline/pkg/session"
	"github.com/astromechza/timeline/pkg/tui"
)

type App struct {
	ConfigPath string
	ServerURL  string
	CachePath  string
	Verbose    bool

	// newStore is replaced in tests.
	newStore func(serverURL string) (remote.Store, error)
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&App{})
}

func newRootCmd(app *App) *cobra.Command {
	if app.newStore == nil {
		app.newStore = func(serverURL string) (remote.Store, error) {
			return remote.NewClient(serverURL)
		}
	}

	cmd := &cobra.Command{
		Use:          "timeline",
		Short:        "Edit and share a relationship timeline",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Open the editor
  timeline

  # Scriptable commands
  timeline add 🎉 "Moved in" 01.03.2026
  timeline share partner@example.com
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(app)
		},
	}

	cmd.PersistentFlags().StringVar(&app.ConfigPath, "config", "", "Path to config file (default "+config.DefaultClientPath()+")")
	cmd.PersistentFlags().StringVar(&app.ServerURL, "server", "", "Timeline server URL (overrides config)")
	cmd.PersistentFlags().StringVar(&app.CachePath, "cache", "", "Local cache file (overrides config)")
	cmd.PersistentFlags().BoolVarP(&app.Verbose, "verbose", "v", false, "Log to stderr")

	cmd.AddCommand(newShowCmd(app))
	cmd.AddCommand(newPrintCmd(app))
	cmd.AddCommand(newAddCmd(app))
	cmd.AddCommand(newEditCmd(app))
	cmd.AddCommand(newMoveCmd(app))
	cmd.AddCommand(newResetCmd(app))
	cmd.AddCommand(newExportCmd(app))
	cmd.AddCommand(newLoginCmd(app))
	cmd.AddCommand(newLogoutCmd(app))
	cmd.AddCommand(newWhoamiCmd(app))
	cmd.AddCommand(newShareCmd(app))
	cmd.AddCommand(newLoadSharedCmd(app))
	cmd.AddCommand(newConfigCmd(app))

	return cmd
}

func (app *App) config() (config.Client, error) {
	cfg, err := config.LoadClient(app.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if app.ServerURL != "" {
		cfg.ServerURL = app.ServerURL
	}
	if app.CachePath != "" {
		cfg.CachePath = app.CachePath
	}
	return cfg, nil
}

// workspace is an open session plus the resources behind it.
type workspace struct {
	cfg     config.Client
	cache   *localcache.Cache
	session *session.Session
	view    *statusView
}

func (w *workspace) Close() {
	w.session.Close()
	if err := w.cache.Close(); err != nil {
		slog.Warn("failed to close cache", "err", err)
	}
}

func (app *App) open(view session.View, logTo io.Writer) (*workspace, error) {
	cfg, err := app.config()
	if err != nil {
		return nil, err
	}
	if logTo == nil {
		logTo = io.Discard
		if app.Verbose {
			logTo = os.Stderr
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logTo, nil)))

	cache, err := localcache.Open(cfg.CachePath)
	if err != nil {
		return nil, err
	}
	store, err := app.newStore(cfg.ServerURL)
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("failed to setup client: %w", err)
	}
	w := &workspace{cfg: cfg, cache: cache}
	if sv, ok := view.(*statusView); ok {
		w.view = sv
	}
	w.session = session.New(cache, store, session.Options{QuietPeriod: cfg.Debounce, View: view})
	return w, nil
}

// openOneShot opens a session for a subcommand, resuming any saved sign-in without
// listening for pushes.
func (app *App) openOneShot(cmd *cobra.Command) (*workspace, error) {
	w, err := app.open(newStatusView(cmd.ErrOrStderr()), nil)
	if err != nil {
		return nil, err
	}
	w.session.Resume()
	return w, nil
}

func runTUI(app *App) error {
	cfg, err := app.config()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath()), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	bridge := tui.NewBridge()
	w, err := app.open(bridge, logFile)
	if err != nil {
		return err
	}
	defer w.Close()

	ctx, cancel := commandContext()
	if _, err := w.session.Restore(ctx); err != nil {
		slog.Warn("failed to restore session", "err", err)
	}
	cancel()
	return tui.Run(w.session, bridge)
}
