package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/csvload/internal/application"
	"github.com/JonMunkholm/csvload/internal/config"
	"github.com/JonMunkholm/csvload/internal/core"
	"github.com/JonMunkholm/csvload/internal/logging"
)

// envFlags maps import flags onto the environment keys they override, so
// flag values pass through the same parsing and validation as the
// environment.
var envFlags = []struct{ flag, env string }{
	{"driver", "DB_DRIVER"},
	{"dsn", "DATABASE_URL"},
	{"schema", "IMPORT_SCHEMA"},
	{"best-effort", "IMPORT_BEST_EFFORT"},
	{"locked", "IMPORT_LOCKED"},
	{"null-string", "IMPORT_NULL_STRING"},
	{"rejects-limit", "IMPORT_REJECTS_LIMIT"},
	{"sample-size", "IMPORT_SAMPLE_SIZE"},
}

type importFlags struct {
	sniffFlags

	table    string
	quietSQL bool
}

// outcome is one file's entry in a multi-file report.
type outcome struct {
	File   string             `json:"file" yaml:"file"`
	Result *core.ImportResult `json:"result,omitempty" yaml:"result,omitempty"`
	Error  string             `json:"error,omitempty" yaml:"error,omitempty"`
	Code   string             `json:"code,omitempty" yaml:"code,omitempty"`
}

func newImportCmd(root *rootOptions) *cobra.Command {
	flags := &importFlags{}

	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Create a table from a file and bulk load it",
		Long: `Import sniffs and scans each FILE, creates a table with the inferred
column types and bulk loads the file into it. The table must not exist.

With one file, --table names the target. With several files each table is
named after its file, and the files load concurrently up to
IMPORT_MAX_CONCURRENT.`,
		Example: `  csvload import people.csv --table people
  csvload import --driver duckdb --dsn ./local.duckdb --best-effort sales.csv --table sales
  csvload import data/*.csv --format yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.table != "" && len(args) > 1 {
				return errors.New("--table cannot be used with more than one file")
			}
			return runImport(cmd, root, flags, args)
		},
	}

	fs := cmd.Flags()
	flags.register(fs)
	fs.StringVar(&flags.table, "table", "", "target table (defaults to the file name)")
	fs.String("schema", "", "target schema (defaults to the database's default schema)")
	fs.Bool("best-effort", false, "skip malformed rows instead of failing the load")
	fs.Bool("locked", true, "request an exclusive bulk load")
	fs.String("null-string", "", "value loaded as NULL")
	fs.Int("rejects-limit", core.DefaultRejectsLimit, "how many rejected rows to report")
	fs.String("driver", "", "database driver (monetdb|postgres|duckdb)")
	fs.String("dsn", "", "database URL")
	fs.BoolVar(&flags.quietSQL, "quiet-sql", false, "do not log executed statements")

	return cmd
}

// loadConfig reads the environment with changed flags layered on top.
func loadConfig(cmd *cobra.Command, flags *importFlags) (*config.Config, error) {
	overrides := make(map[string]string)
	for _, ef := range envFlags {
		if f := cmd.Flags().Lookup(ef.flag); f != nil && f.Changed {
			overrides[ef.env] = flagValue(f)
		}
	}
	if flags.quietSQL {
		overrides["IMPORT_LOG_SQL"] = "false"
	}

	return config.LoadFrom(func(key string) (string, bool) {
		if v, ok := overrides[key]; ok {
			return v, true
		}
		return os.LookupEnv(key)
	})
}

// flagValue renders f the way the environment would spell it.
func flagValue(f *pflag.Flag) string {
	if sv, ok := f.Value.(pflag.SliceValue); ok {
		return strings.Join(sv.GetSlice(), ",")
	}
	return f.Value.String()
}

func runImport(cmd *cobra.Command, root *rootOptions, flags *importFlags, paths []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Fail fast on unreadable files before connecting.
	for _, p := range paths {
		if err := core.Preflight(p); err != nil {
			return err
		}
	}
	sniffOpts, err := flags.options()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}
	logger := logging.New(cmd.ErrOrStderr(), root.logLevel, "text")

	app, err := application.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	opts := application.ImportOptions(cfg.Import)
	outcomes := make([]outcome, len(paths))
	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Import.MaxConcurrent, 1))
	for i, path := range paths {
		table := flags.table
		if table == "" {
			table = tableFromPath(path)
		}
		g.Go(func() error {
			res, err := importOne(gctx, app.Service, logger, core.ImportRequest{
				Path:    path,
				Table:   table,
				Options: &opts,
			}, sniffOpts)

			outcomes[i] = outcome{File: path, Result: res}
			if err != nil {
				outcomes[i].Error = err.Error()
				outcomes[i].Code = codeOf(err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
				mu.Unlock()
			}
			// One failed file does not stop the others.
			return nil
		})
	}
	_ = g.Wait()

	if len(paths) == 1 {
		if len(errs) > 0 {
			return errors.Unwrap(errs[0])
		}
		return render(cmd.OutOrStdout(), root.format, outcomes[0].Result)
	}
	if err := render(cmd.OutOrStdout(), root.format, outcomes); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// importOne runs a single import through the service and follows its
// progress until it ends. Cancelling ctx cancels the import.
func importOne(ctx context.Context, svc *core.Service, logger *slog.Logger, req core.ImportRequest, sniffOpts *core.SniffOptions) (*core.ImportResult, error) {
	if sniffOpts != nil {
		sr, err := svc.Sniff(ctx, req.Path, sniffOpts, req.Options.SampleSize)
		if err != nil {
			return nil, err
		}
		req.Sniff = sr
	}

	id, err := svc.StartImport(ctx, req)
	if err != nil {
		return nil, err
	}
	updates, err := svc.Subscribe(id)
	if err != nil {
		return nil, err
	}

	log := logger.With("import_id", id, "file", req.Path)
	var phase core.Phase
	for {
		select {
		case p, ok := <-updates:
			if !ok {
				return finalResult(svc, id)
			}
			if p.Phase != phase {
				phase = p.Phase
				log.Info("import phase", "phase", phase, "percent", p.Percent)
			}
		case <-ctx.Done():
			_ = svc.Cancel(id)
			ctx = context.Background()
		}
	}
}

func finalResult(svc *core.Service, id string) (*core.ImportResult, error) {
	final, err := svc.Status(id)
	if err != nil {
		return nil, err
	}
	if final.Phase == core.PhaseCommitted {
		return final.Result, nil
	}
	if final.Error == "" {
		return final.Result, fmt.Errorf("import ended in phase %s", final.Phase)
	}
	return final.Result, &runError{msg: final.Error, code: final.ErrorCode}
}

// runError carries a finished run's failure across the service boundary,
// where only its text and code survive.
type runError struct {
	msg  string
	code string
}

func (e *runError) Error() string {
	if e.code == "" {
		return e.msg
	}
	return fmt.Sprintf("%s [%s]", e.msg, e.code)
}

func codeOf(err error) string {
	var re *runError
	if errors.As(err, &re) && re.code != "" {
		return re.code
	}
	return core.MapError(err).Code
}

// tableFromPath derives a table name from a file name.
func tableFromPath(path string) string {
	base := filepath.Base(path)
	return core.NormalizeLabel(strings.TrimSuffix(base, filepath.Ext(base)))
}
