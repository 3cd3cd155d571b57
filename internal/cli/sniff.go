package cli

import (
	"fmt"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/JonMunkholm/csvload/internal/core"
	"github.com/JonMunkholm/csvload/internal/logging"
)

type sniffFlags struct {
	sampleSize int64
	delimiters string
	delimiter  string
	quote      string
	header     string
}

func (f *sniffFlags) register(fs *pflag.FlagSet) {
	fs.Int64Var(&f.sampleSize, "sample-size", 0, "bytes to sniff (0 reads the whole file)")
	fs.StringVar(&f.delimiters, "delimiters", "", "candidate delimiters, in order of preference (e.g. \",;|\")")
	fs.StringVar(&f.delimiter, "delimiter", "", "force the delimiter")
	fs.StringVar(&f.quote, "quote", "", "force the quote character")
	fs.StringVar(&f.header, "header", "", "force header detection (true|false)")
}

// options converts the flags, or returns nil when none were set.
func (f *sniffFlags) options() (*core.SniffOptions, error) {
	if f.delimiters == "" && f.delimiter == "" && f.quote == "" && f.header == "" {
		return nil, nil
	}
	opts := &core.SniffOptions{Delimiters: []rune(f.delimiters)}

	var err error
	if opts.Delimiter, err = oneRune("--delimiter", f.delimiter); err != nil {
		return nil, err
	}
	if opts.Quote, err = oneRune("--quote", f.quote); err != nil {
		return nil, err
	}
	switch f.header {
	case "":
	case "true", "false":
		b := f.header == "true"
		opts.HasHeader = &b
	default:
		return nil, fmt.Errorf("--header must be true or false, got %q", f.header)
	}
	return opts, nil
}

func oneRune(flag, s string) (rune, error) {
	if s == "" {
		return 0, nil
	}
	if s == `\t` {
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("%s must be a single character", flag)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

func newSniffCmd(root *rootOptions) *cobra.Command {
	flags := &sniffFlags{}

	cmd := &cobra.Command{
		Use:   "sniff FILE",
		Short: "Detect the layout and column types of a file",
		Long: `Sniff reads a sample of FILE and reports the delimiter, quote character,
line terminator, header labels and inferred column types. No database is
needed.`,
		Example: `  csvload sniff people.csv
  csvload sniff --sample-size 65536 --format yaml big.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if err := core.Preflight(path); err != nil {
				return err
			}
			opts, err := flags.options()
			if err != nil {
				return err
			}

			imp, err := core.New(core.Config{
				Path:    path,
				Options: core.ImportOptions{SampleSize: flags.sampleSize},
				Logger:  logging.New(cmd.ErrOrStderr(), root.logLevel, "text"),
			})
			if err != nil {
				return err
			}
			res, err := imp.Sniff(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), root.format, res)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}
