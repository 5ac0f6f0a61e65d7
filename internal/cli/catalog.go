package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// CatalogOptions holds flags for the catalog command.
type CatalogOptions struct {
	*RootOptions
	Refresh bool
	Import  string
}

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CatalogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the trackable practices",
		Long: `List the active items that can be completed.

The catalog is cached locally. --refresh replaces it with the remote one
(signed in only); --import loads it from a YAML file, which is how guests
set up their practices:

  items:
    - id: yoga
      name: Yoga
      points: 10
    - id: med
      name: Meditation
      points: 25
      active: false

Examples:
  sadhana catalog
  sadhana catalog --refresh
  sadhana catalog --import practices.yaml`,
		Args:          checkArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalog(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "fetch the catalog from the remote tracker")
	cmd.Flags().StringVar(&opts.Import, "import", "", "load the catalog from a YAML file")
	cmd.MarkFlagsMutuallyExclusive("refresh", "import")

	return cmd
}

func runCatalog(opts *CatalogOptions, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *App) error {
		source := "cached"
		switch {
		case opts.Refresh:
			if err := a.RefreshCatalog(ctx); err != nil {
				return err
			}
			source = "remote"
		case opts.Import != "":
			items, err := readCatalogFile(opts.Import)
			if err != nil {
				return WrapExitError(ExitCommandError, ErrCodeInvalidArg, "import catalog", err)
			}
			if err := a.ImportCatalog(ctx, items); err != nil {
				return err
			}
			source = opts.Import
		}
		return formatter(opts.RootOptions, cmd).Success(catalogView{Items: a.Catalog.Items(), Source: source})
	})
}
