package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// PointsOptions holds flags for the points command.
type PointsOptions struct {
	*RootOptions
	Recompute bool
}

// NewPointsCommand creates the points command.
func NewPointsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PointsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "points",
		Short: "Show the points total",
		Long: `Show the points total.

When signed in the total comes from the remote profile and is cached
locally; otherwise the local ledger is shown. --recompute rebuilds the
ledger from the journal and the catalog point values.

Examples:
  sadhana points
  sadhana points --recompute`,
		Args:          checkArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *App) error {
				view := pointsView{Mode: a.Engine.Mode().String()}
				if opts.Recompute {
					before, after, err := a.Tracker.RecomputePoints(ctx)
					if err != nil {
						return err
					}
					view.Points, view.Before = after, &before
				} else {
					total, err := a.Tracker.LoadPoints(ctx)
					if err != nil {
						return err
					}
					view.Points = total
				}
				return formatter(opts.RootOptions, cmd).Success(view)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Recompute, "recompute", false, "rebuild the total from the journal")

	return cmd
}

// NewDecayCommand creates the decay command.
func NewDecayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decay [points]",
		Short: "Show or set the daily decay preference",
		Long: `Show or set how many points are lost per missed day.

The value is stored locally and, when signed in, pushed to the remote
profile.

Examples:
  sadhana decay
  sadhana decay 15`,
		Args:          checkArgs(cobra.MaximumNArgs(1)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var value *int
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 0 {
					return NewExitError(ExitCommandError, ErrCodeInvalidArg,
						fmt.Sprintf("decay must be a non-negative integer, got %q", args[0]))
				}
				value = &n
			}

			return withApp(rootOpts, cmd, func(ctx context.Context, a *App) error {
				view := decayView{}
				if value != nil {
					if err := a.Tracker.SetDecay(ctx, *value); err != nil {
						return err
					}
					if err := a.Tracker.FlushDecay(ctx); err != nil {
						return err
					}
					view.Pushed = a.Authenticated()
				}
				decay, err := a.Tracker.Decay(ctx)
				if err != nil {
					return err
				}
				view.Decay = decay
				return formatter(rootOpts, cmd).Success(view)
			})
		},
	}
}
