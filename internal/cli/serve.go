package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/sadhana/internal/trackerd"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr    string
	DBPath  string
	Catalog string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference tracker server",
		Long: `Run a tracker server speaking the remote API, for local development.

Tokens are HS256 JWTs signed with server.jwt_secret (or SADHANA_JWT_SECRET);
issue one with "sadhana token". --catalog seeds the item catalog from a YAML
file in the "sadhana catalog --import" format.

Examples:
  sadhana serve
  sadhana serve --addr :9090 --catalog practices.yaml`,
		Args:          checkArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&opts.DBPath, "db", "", "server database (default server.db_path)")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "seed the catalog from a YAML file")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	a, err := bootstrap(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	srvCfg := a.Config.Server
	if srvCfg.JWTSecret == "" {
		return NewExitError(ExitCommandError, ErrCodeConfig, "serve requires server.jwt_secret")
	}
	if opts.Addr != "" {
		srvCfg.Addr = opts.Addr
	}
	if opts.DBPath != "" {
		srvCfg.DBPath = opts.DBPath
	}

	db, err := trackerd.OpenDB(srvCfg.DBPath, opts.Verbose)
	if err != nil {
		return WrapExitError(ExitCommandError, ErrCodeStore, "open server store", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	srvOpts := []trackerd.Option{
		trackerd.WithLogger(a.Logger.Named("trackerd")),
		trackerd.WithAllowedOrigins(srvCfg.AllowedOrigins...),
	}
	if a.tp != nil {
		srvOpts = append(srvOpts, trackerd.WithTracerProvider(a.tp))
	}
	srv, err := trackerd.New(db, []byte(srvCfg.JWTSecret), srvOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, ErrCodeConfig, "create server", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Catalog != "" {
		items, err := readCatalogFile(opts.Catalog)
		if err != nil {
			return WrapExitError(ExitCommandError, ErrCodeInvalidArg, "seed catalog", err)
		}
		if err := srv.Repo().SeedCatalog(ctx, items); err != nil {
			return err
		}
		a.Logger.Info("catalog seeded", zap.Int("items", len(items)))
	}

	return srv.ListenAndServe(ctx, srvCfg.Addr)
}

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	UserID string
	Email  string
	TTL    time.Duration
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for the reference server",
		Long: `Sign an access token with server.jwt_secret.

Without --user-id a new user id is generated.

Examples:
  sadhana token --email me@example.com
  sadhana login --token "$(sadhana token --user-id u1)"`,
		Args:          checkArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Config.Server.JWTSecret == "" {
				return NewExitError(ExitCommandError, ErrCodeConfig, "token requires server.jwt_secret")
			}
			ttl := opts.TTL
			if ttl <= 0 {
				ttl = a.Config.Server.TokenTTL
			}
			tok, sub, err := trackerd.IssueToken([]byte(a.Config.Server.JWTSecret), opts.UserID, opts.Email, ttl)
			if err != nil {
				return err
			}
			return formatter(opts.RootOptions, cmd).Success(tokenView{Token: tok, Subject: sub, Email: opts.Email})
		},
	}

	cmd.Flags().StringVar(&opts.UserID, "user-id", "", "token subject (default a new id)")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email claim")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "token lifetime (default server.token_ttl)")

	return cmd
}
