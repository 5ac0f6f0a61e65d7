package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/sadhana/internal/daykey"
	"github.com/roach88/sadhana/internal/engine"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Pages   int  // pages to show, starting from the newest
	All     bool // whole log in one read
	Refresh bool // bypass the snapshot cache
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the practice journal",
		Long: `Show completions newest day first, one page at a time.

When signed in the journal is read from the remote tracker merged with the
locally kept extras; if the tracker is unreachable the cached copy is shown.
Pages already shown are kept in a snapshot cache (Redis when redis_url is
set) until cache_ttl expires.

Examples:
  sadhana log
  sadhana log --pages 3
  sadhana log --all --format json
  sadhana log --refresh`,
		Args:          checkArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Pages, "pages", "p", 1, "number of pages to show")
	cmd.Flags().BoolVar(&opts.All, "all", false, "show the whole journal")
	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "ignore cached pages")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	if opts.Pages < 1 {
		return NewExitError(ExitCommandError, ErrCodeInvalidArg, "--pages must be at least 1")
	}

	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *App) error {
		clock := daykey.SystemClock{}
		mode := a.Engine.Mode().String()
		out := formatter(opts.RootOptions, cmd)

		if opts.All {
			res, err := a.Engine.Load(ctx)
			if err != nil {
				return err
			}
			return out.Success(newLogView(mode, res.Log, a.Catalog, clock))
		}

		cache := snapshotCache(ctx, a)
		j := engine.NewJourney(a.Engine, cache, engine.WithPageSize(a.Config.PageSize))
		snap, err := j.Load(ctx, opts.Refresh)
		if err != nil {
			return err
		}
		for snap.Page < opts.Pages && snap.HasMore {
			next, err := j.LoadNext(ctx)
			if err != nil {
				return err
			}
			if next.Page == snap.Page {
				break
			}
			snap = next
		}

		view := newLogView(mode, snap.Items, a.Catalog, clock)
		view.Page = snap.Page
		view.HasMore = snap.HasMore
		return out.Success(view)
	})
}

// snapshotCache picks the Redis cache when configured and reachable, the
// in-process cache otherwise.
func snapshotCache(ctx context.Context, a *App) engine.SnapshotCache {
	if a.Config.RedisURL != "" {
		rc, err := engine.NewRedisSnapshotCacheFromURL(ctx, a.Config.RedisURL, a.Config.CacheTTL)
		if err == nil {
			a.closers = append(a.closers, rc.Close)
			return rc
		}
		a.Logger.Warn("snapshot cache: using memory", zap.Error(err))
	}
	return engine.NewMemorySnapshotCache(a.Config.CacheTTL, nil)
}
