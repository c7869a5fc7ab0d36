package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/astromechza/timeline/pkg/timeline"
	"github.com/astromechza/timeline/pkg/viz"
)

// parsePosition converts a 1-based position as shown by show into an index.
func parsePosition(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid position %q", raw)
	}
	return n - 1, nil
}

// mutate runs fn against a one-shot session, flushes the remote write and shows
// the resulting list.
func mutate(app *App, cmd *cobra.Command, fn func(w *workspace) error) error {
	w, err := app.openOneShot(cmd)
	if err != nil {
		return err
	}
	defer w.Close()
	if err := fn(w); err != nil {
		return err
	}
	w.session.Flush()
	_, err = fmt.Fprint(cmd.OutOrStdout(), timeline.Render(w.session.Entries()))
	return err
}

func newShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List the entries in the local timeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := app.openOneShot(cmd)
			if err != nil {
				return err
			}
			defer w.Close()
			_, err = fmt.Fprint(cmd.OutOrStdout(), timeline.Render(w.session.Entries()))
			return err
		},
	}
}

func newPrintCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "print",
		Short: "Print the one-line preview of the timeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := app.openOneShot(cmd)
			if err != nil {
				return err
			}
			defer w.Close()
			_, err = fmt.Fprintln(cmd.OutOrStdout(), timeline.Preview(w.session.Entries()))
			return err
		},
	}
}

func newAddCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "add EMOJI TITLE DATE",
		Short: "Append an entry",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(app, cmd, func(w *workspace) error {
				return w.session.OnAdd(timeline.Entry{Emoji: args[0], Title: args[1], Date: args[2]})
			})
		},
	}
}

func newEditCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "edit POSITION FIELD VALUE",
		Short: "Change the emoji, title or date of an entry",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parsePosition(args[0])
			if err != nil {
				return err
			}
			field, err := timeline.ParseField(args[1])
			if err != nil {
				return err
			}
			return mutate(app, cmd, func(w *workspace) error {
				return w.session.OnEntryFieldEdited(index, field, args[2])
			})
		},
	}
}

func newMoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "move FROM TO",
		Short: "Move an entry to a new position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parsePosition(args[0])
			if err != nil {
				return err
			}
			to, err := parsePosition(args[1])
			if err != nil {
				return err
			}
			return mutate(app, cmd, func(w *workspace) error {
				return w.session.OnReorder(from, to)
			})
		},
	}
}

func newResetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore the built-in entries locally",
		Long:  "Restore the built-in entries locally. The remote timeline is left alone until the next edit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(app, cmd, func(w *workspace) error {
				w.session.OnReset()
				return nil
			})
		},
	}
}

func newExportCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "export PATH",
		Short: "Draw the timeline to a png, svg, jpg or dot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := app.openOneShot(cmd)
			if err != nil {
				return err
			}
			defer w.Close()
			if err := viz.RenderToFile(w.session.Entries(), args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Exported to "+args[0])
			return err
		},
	}
}
