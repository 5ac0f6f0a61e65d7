package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/sadhana/internal/daykey"
	"github.com/roach88/sadhana/internal/store"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade the stored journal to the current schema",
		Long: `Rewrite the stored journal and extras in the current schema.

Older layouts (completion maps, day buckets with labels, flat arrays) are
upgraded on first read anyway; this command does it eagerly and reports the
versions found. A version of "-" means nothing is stored.

Examples:
  sadhana migrate
  sadhana migrate --format json`,
		Args:          checkArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *App) error {
				clock := daykey.SystemClock{}
				logs := store.NewLogStore(a.Store, a.Engine.LogKey(), clock)
				extras := store.NewExtrasStore(a.Store, a.Engine.LogKey(), clock)

				view := migrateView{LogKey: logs.Key()}
				var err error
				if view.LogFrom, view.LogTo, view.Events, err = migrateOne(ctx, logs); err != nil {
					return err
				}
				if view.ExtrasFrom, view.ExtrasTo, view.Extras, err = migrateOne(ctx, extras); err != nil {
					return err
				}
				return formatter(rootOpts, cmd).Success(view)
			})
		},
	}
}

// migrateOne reads ls, which upgrades it in place, and reports the stored
// version before and after.
func migrateOne(ctx context.Context, ls *store.LogStore) (from, to, events int, err error) {
	if from, err = ls.Version(ctx); err != nil {
		return 0, 0, 0, err
	}
	log, err := ls.Read(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	if to, err = ls.Version(ctx); err != nil {
		return 0, 0, 0, err
	}
	return from, to, len(log), nil
}
