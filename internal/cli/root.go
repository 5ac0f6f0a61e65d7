package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Trace      bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the sadhana CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sadhana",
		Short: "sadhana - daily practice tracker",
		Long: `Track daily practices offline first and sync them with a remote tracker.

Without a session every command works on the local journal (guest mode).
After "sadhana login" completions are written to the remote tracker, with a
second same-day completion kept locally as an extra.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, ErrCodeInvalidArg,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, ErrCodeInvalidArg, "invalid flag", err)
	})

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default $HOME/.sadhana/config.yaml)")
	cmd.PersistentFlags().BoolVar(&opts.Trace, "trace", false, "print operation spans to stderr")

	// Add subcommands
	cmd.AddCommand(NewTodayCommand(opts))
	cmd.AddCommand(NewDoneCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewPointsCommand(opts))
	cmd.AddCommand(NewDecayCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewSyncGuestCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Execute runs the CLI with args and returns the process exit code.
// Errors are reported through the output formatter in the selected format.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	format := "text"
	if f := root.PersistentFlags().Lookup("format"); f != nil && f.Value.String() == "json" {
		format = "json"
	}
	verbose := false
	if f := root.PersistentFlags().Lookup("verbose"); f != nil {
		verbose = f.Value.String() == "true"
	}
	out := &OutputFormatter{Format: format, Writer: stdout, ErrWriter: stderr, Verbose: verbose}

	code := GetExitCode(err)
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Reported {
		return code
	}
	if exitErr == nil && isUsageError(err) {
		code = ExitCommandError
		err = WrapExitError(code, ErrCodeInvalidArg, "invalid command line", err)
	}
	_ = out.Error(ErrorCode(err), err.Error(), nil)
	return code
}

// usagePrefixes identify cobra's own command-line errors, which carry no
// type of their own.
var usagePrefixes = []string{
	"unknown command",
	"required flag",
	"if any flags in the group",
}

func isUsageError(err error) bool {
	for _, p := range usagePrefixes {
		if strings.HasPrefix(err.Error(), p) {
			return true
		}
	}
	return false
}

// checkArgs wraps a positional-args validator so violations exit with
// ExitCommandError.
func checkArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return WrapExitError(ExitCommandError, ErrCodeInvalidArg, "invalid arguments", err)
		}
		return nil
	}
}

// formatter builds the output formatter for a command.
func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// withApp opens the app for cmd, runs fn and closes it.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
