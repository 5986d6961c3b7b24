// Command cleaner runs cleaning rules against one dataset, or prints the
// queries they would run.
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
	"os/signal"
	"strings"
	"syscall"

	"github.com/liamcoop/curation/internal/app"
	"github.com/liamcoop/curation/internal/config"
	"github.com/liamcoop/curation/internal/logger"
	"github.com/liamcoop/curation/rules"
)

type cliOptions struct {
	target      rules.Target
	stage       string
	rules       listFlag
	runAs       string
	listQueries bool
	stagesFile  string
	opts        optionsFlag
}

// listFlag collects repeated or comma separated values
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// optionsFlag collects repeated key=value rule options
type optionsFlag rules.Options

func (o *optionsFlag) String() string {
	parts := make([]string, 0, len(*o))
	for k, v := range *o {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func (o *optionsFlag) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return fmt.Errorf("option %q must be key=value", v)
	}
	if *o == nil {
		*o = optionsFlag{}
	}
	(*o)[strings.TrimSpace(key)] = value
	return nil
}

func parseFlags(args []string, stderr io.Writer) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("cleaner", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.target.ProjectID, "project", "", "Project the datasets live in (required)")
	fs.StringVar(&opts.target.DatasetID, "dataset", "", "Dataset to clean (required)")
	fs.StringVar(&opts.target.SandboxDatasetID, "sandbox", "", "Sandbox dataset for backed up rows (required)")
	fs.StringVar(&opts.target.TableNamer, "namer", "", "Prefix for sandbox table names")
	fs.StringVar(&opts.stage, "stage", "", "Stage to run")
	fs.Var(&opts.rules, "rule", "Rule to run; repeat or comma separate for several")
	fs.StringVar(&opts.runAs, "run-as", "", "Service account to impersonate")
	fs.BoolVar(&opts.listQueries, "list-queries", false, "Print the queries instead of running them")
	fs.StringVar(&opts.stagesFile, "stages", "", "Stage definitions file (overrides CURATION_STAGES_FILE)")
	fs.Var(&opts.opts, "opt", "Rule option as key=value; repeatable")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	if err := opts.target.Validate(); err != nil {
		return cliOptions{}, err
	}
	if (opts.stage == "") == (len(opts.rules) == 0) {
		return cliOptions{}, app.ErrSelection
	}
	return opts, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if opts.stagesFile != "" {
		cfg.StagesFile = opts.stagesFile
	}

	log, shutdown, err := logger.New(ctx, cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}

	err = run(ctx, cfg, opts, log, os.Stdout)
	if err != nil {
		logger.Fatal(ctx, log, shutdown, "cleaner failed", "error", err)
	}
	if err := shutdown(context.WithoutCancel(ctx)); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown: %v\n", err)
	}
}

func run(ctx context.Context, cfg config.Config, opts cliOptions, log *slog.Logger, stdout io.Writer) error {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	req, skipped, err := a.Request(app.Selection{
		Target:  opts.target,
		Stage:   opts.stage,
		Rules:   opts.rules,
		RunAs:   opts.runAs,
		Options: rules.Options(opts.opts),
	})
	if err != nil {
		return err
	}
	if len(skipped) > 0 {
		log.Info("skipping gated rules", "stage", opts.stage, "rules", skipped)
	}

	if opts.listQueries {
		plan, _, err := a.Preview(req)
		if err != nil {
			return err
		}
		return writeQueries(stdout, plan)
	}

	rec, err := a.Run(ctx, req)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(rec); encErr != nil {
		return errors.Join(err, encErr)
	}
	return err
}

func writeQueries(w io.Writer, plan []rules.RuleQueries) error {
	for _, rq := range plan {
		if _, err := fmt.Fprintf(w, "-- %s (%s)\n", rq.Rule, rq.Info); err != nil {
			return err
		}
		for _, q := range rq.Queries {
			line := strings.TrimSpace(q.Query)
			if q.HasDestination() {
				line = fmt.Sprintf("-- destination: %s.%s (%s)\n%s", q.DestinationDataset, q.DestinationTable, q.WriteDisposition, line)
			}
			if _, err := fmt.Fprintf(w, "%s;\n\n", line); err != nil {
				return err
			}
		}
	}
	return nil
}
