package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/astromechza/timeline/pkg/session"
	"github.com/astromechza/timeline/pkg/timeline"
)

func newLoginCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "login EMAIL",
		Short: "Sign in and sync the local timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := app.open(newStatusView(cmd.ErrOrStderr()), nil)
			if err != nil {
				return err
			}
			defer w.Close()
			ctx, cancel := commandContext()
			defer cancel()
			return w.session.SignIn(ctx, args[0])
		},
	}
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := app.openOneShot(cmd)
			if err != nil {
				return err
			}
			defer w.Close()
			ctx, cancel := commandContext()
			defer cancel()
			return w.session.SignOut(ctx)
		},
	}
}

func newWhoamiCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := app.openOneShot(cmd)
			if err != nil {
				return err
			}
			defer w.Close()
			id := w.session.Identity()
			if id == nil {
				return session.ErrNoSession
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", id.Email, id.UID)
			return err
		},
	}
}

func newShareCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "share EMAIL",
		Short: "Let EMAIL load your timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := app.openOneShot(cmd)
			if err != nil {
				return err
			}
			defer w.Close()
			ctx, cancel := commandContext()
			defer cancel()
			_, err = w.session.Share(ctx, args[0])
			return err
		},
	}
}

func newLoadSharedCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "load-shared EMAIL",
		Short: "Replace the local timeline with the one shared with EMAIL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := app.openOneShot(cmd)
			if err != nil {
				return err
			}
			defer w.Close()
			ctx, cancel := commandContext()
			defer cancel()
			if err := w.session.LoadShared(ctx, args[0]); err != nil {
				return err
			}
			if !w.view.waitRefresh(ctx) {
				return fmt.Errorf("no timeline received from %s", args[0])
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), timeline.Render(w.session.Entries()))
			return err
		},
	}
}
