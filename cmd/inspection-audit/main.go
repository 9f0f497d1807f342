// Command inspection-audit runs offline integrity checks against the
// inspection store configured through COMPLIANCECORE_* environment variables.
//
//	inspection-audit [flags] verify <inspection-id>
//	inspection-audit [flags] reaudit <inspection-id>
//	inspection-audit [flags] details <inspection-id>
//	inspection-audit [flags] stats [-district CODE]
//	inspection-audit [flags] catalog [-file PATH]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"compliancecore/internal/catalog"
	"compliancecore/internal/core"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var (
	exitFunc    = os.Exit
	openService = core.OpenService
)

var errUsage = errors.New("usage")

// errCheckFailed marks a completed check whose result is negative.
var errCheckFailed = errors.New("check failed")

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("inspection-audit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		logLevel string
		timeout  time.Duration
		trace    bool
	)
	fs.StringVar(&logLevel, "log-level", "warn", "log level: debug|info|warn|error")
	fs.DurationVar(&timeout, "timeout", 30*time.Second, "overall command timeout")
	fs.BoolVar(&trace, "trace", false, "write operation spans as JSON to stderr")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: inspection-audit [flags] verify|reaudit|details <id> | stats [-district CODE] | catalog [-file PATH]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}
	level, err := parseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "inspection-audit: %v\n", err)
		return exitUsage
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	opts := []core.ServiceOption{core.WithLogger(logger)}
	if trace {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(stderr)))
	}
	err = run(ctx, fs.Arg(0), fs.Args()[1:], stdout, opts)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "inspection-audit: %v\n", err)
		return exitUsage
	case errors.Is(err, errCheckFailed):
		return exitFailure
	default:
		fmt.Fprintf(stderr, "inspection-audit: %s: %v\n", core.ErrorKind(err), err)
		return exitFailure
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func run(ctx context.Context, cmd string, args []string, stdout io.Writer, opts []core.ServiceOption) error {
	if cmd == "catalog" {
		return runCatalog(args, stdout)
	}
	switch cmd {
	case "verify", "reaudit", "details", "stats":
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}

	var district string
	if cmd == "stats" {
		fs := flag.NewFlagSet("stats", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		fs.StringVar(&district, "district", "", "district code (default all)")
		if err := fs.Parse(args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
	} else if len(args) != 1 || args[0] == "" {
		return fmt.Errorf("%w: %s requires exactly one inspection id", errUsage, cmd)
	}

	svc, err := openService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("open service: %w", err)
	}
	defer func() { _ = svc.Close(context.WithoutCancel(ctx)) }()

	switch cmd {
	case "verify":
		v, err := svc.VerifyInspection(ctx, args[0])
		if err != nil {
			return err
		}
		if err := writeJSON(stdout, v); err != nil {
			return err
		}
		if !v.OK() {
			return errCheckFailed
		}
	case "reaudit":
		report, err := svc.Reaudit(ctx, args[0])
		if err != nil {
			return err
		}
		if err := writeJSON(stdout, report); err != nil {
			return err
		}
		if !report.Matches {
			return errCheckFailed
		}
	case "details":
		details, err := svc.GetInspectionDetails(ctx, args[0])
		if err != nil {
			return err
		}
		return writeJSON(stdout, details)
	case "stats":
		stats, err := svc.GetStats(ctx, district)
		if err != nil {
			return err
		}
		return writeJSON(stdout, stats)
	}
	return nil
}

type catalogSummary struct {
	Source     string          `json:"source"`
	Pillars    int             `json:"pillars"`
	Indicators int             `json:"indicators"`
	Thresholds core.Thresholds `json:"thresholds"`
}

// runCatalog validates a catalog file without opening any store.
func runCatalog(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("catalog", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var path string
	fs.StringVar(&path, "file", os.Getenv("COMPLIANCECORE_CATALOG_PATH"), "catalog YAML (default built-in)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	f, err := catalog.Load(path)
	if err != nil {
		return err
	}
	thresholds, err := catalog.DecodeThresholds(f.Config)
	if err != nil {
		return err
	}
	source := path
	if source == "" {
		source = "built-in"
	}
	return writeJSON(stdout, catalogSummary{
		Source:     source,
		Pillars:    len(f.Pillars),
		Indicators: len(f.Indicators),
		Thresholds: thresholds,
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
