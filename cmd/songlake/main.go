package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"songlake/internal/config"
	"songlake/internal/engine"
	"songlake/internal/history"
	"songlake/internal/inspect"
	"songlake/internal/logger"
	"songlake/internal/metrics"
	"songlake/internal/pipeline"
	"songlake/internal/report"
	"songlake/internal/sink"
)

const (
	serviceName = "songlake"
	// Bounds the history, metrics and report steps after a run, which
	// still happen when the run itself was interrupted.
	finishTimeout = 30 * time.Second
)

const usage = `usage: songlake <command> [flags]

commands:
  run       build the star schema tables (default)
  query     run a read-only SELECT over the written tables
  stats     show row counts and sizes of the written tables
  history   list recorded runs

Tables are exposed to query as views named song, artist, "user", "time"
and songplays. Run "songlake <command> --help" for flags.
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "songlake:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cmd := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "run":
		return runPipeline(ctx, args)
	case "query":
		return runQuery(ctx, args, stdout)
	case "stats":
		return runStats(ctx, args, stdout)
	case "history":
		return runHistory(ctx, args, stdout)
	case "help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}

// invocation is the resolved state shared by every command.
type invocation struct {
	cfg   config.Config
	log   *zap.Logger
	args  []string
	limit int
}

func setup(name string, args []string, checks ...func(config.Config) error) (*invocation, error) {
	fs := config.NewFlagSet(name)
	var limit *int
	if name == "history" {
		limit = fs.Int("limit", 20, "number of runs to list")
	}

	cfg, err := config.Load(fs, args)
	if err != nil {
		return nil, err
	}
	for _, check := range checks {
		if err := check(cfg); err != nil {
			return nil, err
		}
	}

	log, err := logger.New(logger.Config{Service: serviceName, Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return nil, err
	}
	inv := &invocation{cfg: cfg, log: log.With(zap.String("command", name)), args: fs.Args()}
	if limit != nil {
		inv.limit = *limit
	}
	return inv, nil
}

func runPipeline(ctx context.Context, args []string) error {
	inv, err := setup("run", args)
	if err != nil {
		return err
	}
	defer inv.log.Sync()
	cfg, log := inv.cfg, inv.log

	rec := history.NewRun(cfg.InputRoot, cfg.OutputRoot)
	log = log.With(zap.String("run_id", rec.ID))
	log.Info("run started",
		zap.String("input", cfg.InputRoot),
		zap.String("output", cfg.OutputRoot),
	)

	recorder := metrics.NewRecorder()
	res, runErr := execute(ctx, cfg, log, recorder)
	rec.Complete(res, runErr)
	recorder.ObserveRun(runErr, rec.FinishedAt)

	if runErr != nil {
		log.Error("run failed", zap.Duration("duration", rec.Duration()), zap.Error(runErr))
	} else {
		log.Info("run finished", zap.Duration("duration", rec.Duration()), zap.Int("tables", len(rec.Tables)))
	}

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	finish(finishCtx, cfg, log, rec, recorder)

	return runErr
}

// execute runs both stages against a fresh engine session and sink.
func execute(ctx context.Context, cfg config.Config, log *zap.Logger, observers ...pipeline.Observer) (*pipeline.Result, error) {
	sess, err := engine.NewSession(ctx, cfg.Engine)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	out, err := sink.New(ctx, cfg.OutputRoot, cfg.Credentials(), cfg.WriteRetries, log)
	if err != nil {
		return nil, fmt.Errorf("opening output %s: %w", cfg.OutputRoot, err)
	}
	defer func() {
		if err := out.Cleanup(); err != nil {
			log.Warn("failed to clean staging", zap.Error(err))
		}
	}()

	p := pipeline.New(sess, out, pipeline.Options{
		InputRoot:   cfg.InputRoot,
		SongGlob:    cfg.SongGlob,
		LogGlob:     cfg.LogGlob,
		StrictInput: cfg.StrictInput,
	}, log, observers...)
	return p.Run(ctx)
}

// finish records the run, pushes metrics and exports the report. Failures
// here are logged and never change the run's outcome.
func finish(ctx context.Context, cfg config.Config, log *zap.Logger, rec history.Run, recorder *metrics.Recorder) {
	if cfg.HistoryPath != "" {
		if err := recordHistory(ctx, cfg, log, rec); err != nil {
			log.Warn("failed to record run history", zap.String("path", cfg.HistoryPath), zap.Error(err))
		}
	}

	if cfg.PushgatewayURL != "" {
		err := recorder.Push(ctx, cfg.PushgatewayURL, serviceName, map[string]string{"output": cfg.OutputRoot})
		if err != nil {
			log.Warn("failed to push metrics", zap.String("url", cfg.PushgatewayURL), zap.Error(err))
		}
	}

	if cfg.OTLPEndpoint != "" {
		exporter := report.NewExporter(cfg.OTLPEndpoint, serviceName)
		if err := exporter.Export(ctx, rec); err != nil {
			log.Warn("failed to export run report", zap.String("url", exporter.URL()), zap.Error(err))
		}
	}
}

func recordHistory(ctx context.Context, cfg config.Config, log *zap.Logger, rec history.Run) error {
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Record(ctx, rec); err != nil {
		return err
	}
	pruned, err := store.PruneOlderThan(ctx, cfg.HistoryRetention)
	if err != nil {
		return err
	}
	if pruned.RunsDeleted > 0 {
		log.Info("pruned run history",
			zap.Int64("runs", pruned.RunsDeleted),
			zap.Time("cutoff", pruned.Cutoff),
		)
	}
	return nil
}

func localOutput(cfg config.Config) error {
	if sink.IsObjectStoreURL(cfg.OutputRoot) {
		return errors.New("query and stats read local output only")
	}
	return nil
}

func openInspector(ctx context.Context, cfg config.Config) (*inspect.Inspector, *engine.Session, error) {
	sess, err := engine.NewSession(ctx, cfg.Engine)
	if err != nil {
		return nil, nil, err
	}
	in, err := inspect.Open(ctx, sess, cfg.OutputRoot)
	if err != nil {
		sess.Close()
		return nil, nil, err
	}
	return in, sess, nil
}

func runQuery(ctx context.Context, args []string, stdout io.Writer) error {
	inv, err := setup("query", args, localOutput)
	if err != nil {
		return err
	}
	defer inv.log.Sync()

	if len(inv.args) == 0 {
		return inspect.ErrEmptyQuery
	}
	in, sess, err := openInspector(ctx, inv.cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	res, err := in.Query(ctx, strings.Join(inv.args, " "))
	if err != nil {
		return err
	}
	return writeJSON(stdout, res)
}

func runStats(ctx context.Context, args []string, stdout io.Writer) error {
	inv, err := setup("stats", args, localOutput)
	if err != nil {
		return err
	}
	defer inv.log.Sync()
	cfg := inv.cfg

	in, sess, err := openInspector(ctx, cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	stats, err := in.Stats(ctx)
	if err != nil {
		return err
	}

	if cfg.HistoryPath != "" {
		if last, err := lastRun(ctx, cfg.HistoryPath); err == nil {
			stats.LastRun = &last
		} else if !errors.Is(err, history.ErrNoRuns) {
			inv.log.Warn("failed to read run history", zap.Error(err))
		}
	}
	return writeJSON(stdout, stats)
}

func lastRun(ctx context.Context, path string) (history.Run, error) {
	store, err := history.Open(path)
	if err != nil {
		return history.Run{}, err
	}
	defer store.Close()
	return store.Last(ctx)
}

func runHistory(ctx context.Context, args []string, stdout io.Writer) error {
	inv, err := setup("history", args)
	if err != nil {
		return err
	}
	defer inv.log.Sync()

	if inv.cfg.HistoryPath == "" {
		return errors.New("run history is disabled")
	}
	store, err := history.Open(inv.cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Recent(ctx, inv.limit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []history.Run{}
	}
	return writeJSON(stdout, runs)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
