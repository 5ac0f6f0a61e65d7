package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/sadhana/internal/daykey"
	"github.com/roach88/sadhana/internal/journal"
)

// NewTodayCommand creates the today command.
func NewTodayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Show today's practices and points",
		Long: `Show every active item with today's completion count and the points total.

A new calendar day clears the done marks first.

Examples:
  sadhana today
  sadhana today --format json`,
		Args:          checkArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *App) error {
				reset, err := a.Tracker.Rollover(ctx)
				if err != nil {
					return err
				}
				view, err := a.Tracker.Today(ctx)
				if err != nil {
					return err
				}
				return formatter(rootOpts, cmd).Success(todayView{
					TodayView:  view,
					Mode:       a.Engine.Mode().String(),
					MaxPerItem: a.Config.MaxPerItem,
					Reset:      reset,
				})
			})
		},
	}
}

// NewDoneCommand creates the done command.
func NewDoneCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "done <item-id>",
		Short: "Record a completion for today",
		Long: `Record one completion of an item for today.

An item can be completed max_per_item times a day (two by default). When
signed in, the first completion goes to the remote tracker and the second is
kept locally as an extra.

Exit codes:
  0 - Completion recorded
  1 - Refused (CAP_REACHED, UNKNOWN_ITEM, WRITE_IN_FLIGHT) or the remote failed
  2 - Command error (bad arguments, bad config)

Examples:
  sadhana done yoga
  sadhana done med --format json`,
		Args:          checkArgs(cobra.ExactArgs(1)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *App) error {
				if _, err := a.Tracker.Rollover(ctx); err != nil {
					return err
				}
				out, err := a.Tracker.MarkDone(ctx, args[0])
				if err != nil {
					return err
				}
				ev := journal.Event{DayKey: daykey.Today(daykey.SystemClock{}), ItemID: args[0]}
				return formatter(rootOpts, cmd).Success(newMutationView("done", ev, out))
			})
		},
	}
}

// DeleteOptions holds flags for the delete command.
type DeleteOptions struct {
	*RootOptions
	Day string
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete <item-id>",
		Short: "Remove one completion",
		Long: `Remove one completion of an item on a day (today by default).

When signed in, a locally kept extra is removed before the remote record.
The item's points are taken back; today's done mark is lowered only for
today's completions.

Examples:
  sadhana delete yoga
  sadhana delete med --day 2024-02-04`,
		Args:          checkArgs(cobra.ExactArgs(1)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Day, "day", "", "day key YYYY-MM-DD (default today)")

	return cmd
}

func runDelete(opts *DeleteOptions, cmd *cobra.Command, itemID string) error {
	day := opts.Day
	if day == "" {
		day = daykey.Today(daykey.SystemClock{})
	}
	ev := journal.Event{DayKey: day, ItemID: itemID}
	if err := ev.Validate(); err != nil {
		return WrapExitError(ExitCommandError, ErrCodeInvalidArg, "invalid event", err)
	}

	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *App) error {
		if _, err := a.Tracker.Rollover(ctx); err != nil {
			return err
		}
		out, err := a.Tracker.Delete(ctx, ev)
		if err != nil {
			return fmt.Errorf("delete %s: %w", ev.Key(), err)
		}
		return formatter(opts.RootOptions, cmd).Success(newMutationView("delete", ev, out))
	})
}
