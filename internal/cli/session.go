package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/sadhana/internal/remote"
	"github.com/roach88/sadhana/internal/store"
)

// LoginOptions holds flags for the login command.
type LoginOptions struct {
	*RootOptions
	Token  string
	UserID string
	Email  string
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the remote tracker",
		Long: `Store an access token and switch to the remote tracker.

The user id and email are read from the remote profile when available. On
the first sign-in of a user the guest journal is uploaded once; completions
the tracker already holds are skipped. A failed upload keeps the guest data
and can be retried with "sadhana sync-guest".

Requires api_url in the config file or SADHANA_API_URL.

Examples:
  sadhana login --token "$TOKEN"
  sadhana login --token "$TOKEN" --user-id u1 --email me@example.com`,
		Args:          checkArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Token, "token", "", "access token (required)")
	cmd.Flags().StringVar(&opts.UserID, "user-id", "", "user id, when the profile does not carry one")
	cmd.Flags().StringVar(&opts.Email, "email", "", "user email")
	cmd.MarkFlagRequired("token")

	return cmd
}

func runLogin(opts *LoginOptions, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *App) error {
		if a.Config.GuestMode() {
			return NewExitError(ExitCommandError, ErrCodeConfig, "login requires api_url to be configured")
		}

		sess := store.Session{
			AccessToken: opts.Token,
			LoggedIn:    true,
			UserID:      opts.UserID,
			Email:       opts.Email,
		}
		if err := a.SignIn(ctx, sess); err != nil {
			return err
		}

		profile, err := a.Gateway.Profile(ctx)
		switch {
		case remote.IsUnauthorized(err):
			if clearErr := a.SignOut(ctx); clearErr != nil {
				a.Logger.Warn("login: clear rejected session", zap.Error(clearErr))
			}
			return err
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.Logger.Warn("login: profile unavailable", zap.Error(err))
		default:
			if profile.ID != "" {
				sess.UserID = profile.ID
			}
			if profile.Email != "" {
				sess.Email = profile.Email
			}
			sess.DecayPoints = profile.DecayPoints
		}
		if sess.UserID == "" {
			if clearErr := a.SignOut(ctx); clearErr != nil {
				a.Logger.Warn("login: clear incomplete session", zap.Error(clearErr))
			}
			return NewExitError(ExitCommandError, ErrCodeInvalidArg,
				"user id unknown: profile unavailable and --user-id not given")
		}
		if err := a.SignIn(ctx, sess); err != nil {
			return err
		}

		if err := a.RefreshCatalog(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.Logger.Warn("login: catalog refresh failed", zap.Error(err))
		}

		view := sessionView{
			LoggedIn: true,
			UserID:   sess.UserID,
			Email:    sess.Email,
			Mode:     a.Engine.Mode().String(),
		}
		rep, err := a.Tracker.SyncGuest(ctx, sess.UserID)
		view.Submitted, view.Conflicts, view.Extras = rep.Submitted, rep.Conflicts, rep.Extras
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.Logger.Warn("login: guest upload failed", zap.Error(err))
			view.SyncError = err.Error()
		}
		return formatter(opts.RootOptions, cmd).Success(view)
	})
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and return to guest mode",
		Long: `Clear the stored token, user and decay preference.

The journal stays on this device and is used in guest mode.`,
		Args:          checkArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *App) error {
				if err := a.SignOut(ctx); err != nil {
					return err
				}
				return formatter(rootOpts, cmd).Success(sessionView{Mode: a.Engine.Mode().String()})
			})
		},
	}
}

// NewSyncGuestCommand creates the sync-guest command.
func NewSyncGuestCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-guest",
		Short: "Upload the guest journal to the remote tracker",
		Long: `Upload the guest journal once for the signed-in user.

Events are deduplicated per day and item; completions the tracker already
holds are skipped. A repeat of the same item on the same day is kept on this
device as an extra. Nothing is sent when this user was already synced.`,
		Args:          checkArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *App) error {
				if !a.Authenticated() {
					return NewExitError(ExitCommandError, ErrCodeNotLoggedIn, "sync-guest requires a signed-in session")
				}
				rep, err := a.Tracker.SyncGuest(ctx, a.Session.UserID)
				if err != nil {
					return err
				}
				return formatter(rootOpts, cmd).Success(sessionView{
					LoggedIn:  true,
					UserID:    a.Session.UserID,
					Email:     a.Session.Email,
					Mode:      a.Engine.Mode().String(),
					Submitted: rep.Submitted,
					Conflicts: rep.Conflicts,
					Extras:    rep.Extras,
				})
			})
		},
	}
}
