// Package cli implements the csvload command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/csvload/internal/application"
	"github.com/JonMunkholm/csvload/internal/core"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	envFile  string
	format   string
	logLevel string
}

// NewRootCmd builds the csvload command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "csvload",
		Short: "Schema-inferring CSV bulk loader",
		Long: `csvload sniffs a delimited text file, infers a column type for every
field and bulk loads it into a new table.

The target database comes from DB_DRIVER and DATABASE_URL (or the --driver
and --dsn flags). A .env file in the working directory is read first.`,
		Version: application.Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			if err := validateFormat(opts.format); err != nil {
				return err
			}
			if opts.envFile == "" {
				return nil
			}
			if err := godotenv.Overload(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load %s: %w", opts.envFile, err)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	pf.StringVarP(&opts.format, "format", "o", "json", "output format (json|yaml)")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level for diagnostics on stderr")

	_ = root.RegisterFlagCompletionFunc("format", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(newSniffCmd(opts))
	root.AddCommand(newImportCmd(opts))

	return root
}

// Execute runs the command tree and reports the error on stderr.
func Execute(ctx context.Context) error {
	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", describe(err))
		return err
	}
	return nil
}

// describe prefers the user-facing message when the error has one.
func describe(err error) string {
	if core.IsUserFacing(err) {
		return core.FormatUserError(err) + "\n  " + err.Error()
	}
	return err.Error()
}

func validateFormat(format string) error {
	switch format {
	case "json", "yaml":
		return nil
	}
	return fmt.Errorf("unsupported output format %q: use 'json' or 'yaml'", format)
}

func render(w io.Writer, format string, v any) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
