// Package pipeline turns raw song and activity JSON into the star schema
// tables (song, artist, user, time, songplays).
package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"songlake/internal/engine"
)

// Default input globs, relative to the input root.
const (
	DefaultSongGlob = "song_data/*/*/*/*.json"
	DefaultLogGlob  = "log-data/*.json"
)

// Stage names.
const (
	StageSongCatalog = "song_catalog"
	StageActivityLog = "activity_log"
)

// Destination receives finished tables. The engine writes into the directory
// returned by Stage; Publish makes it the table's canonical output.
type Destination interface {
	Stage(table string) (string, error)
	Publish(ctx context.Context, table, staged string) (string, error)
}

// Observer is notified as tables are written and stages finish.
type Observer interface {
	TableWritten(t TableResult)
	StageFinished(stage string, d time.Duration, err error)
}

// Options configure where input comes from.
type Options struct {
	InputRoot string
	SongGlob  string
	LogGlob   string
	// StrictInput turns "no input files" into a failure instead of empty tables.
	StrictInput bool
}

// TableResult describes one published table.
type TableResult struct {
	Name        string
	Location    string
	PartitionBy []string
	Rows        int64
	Files       int
	Bytes       int64
}

// StageResult describes one finished stage.
type StageResult struct {
	Name       string
	Duration   time.Duration
	EmptyInput bool
	Tables     []TableResult
}

// Result describes a full run. Stages holds every stage that started,
// including a failed one.
type Result struct {
	Stages   []StageResult
	Duration time.Duration
}

// Tables flattens the table results of all stages.
func (r *Result) Tables() []TableResult {
	var out []TableResult
	for _, s := range r.Stages {
		out = append(out, s.Tables...)
	}
	return out
}

// Pipeline runs both stages against one engine session.
type Pipeline struct {
	sess      *engine.Session
	dest      Destination
	opts      Options
	log       *zap.Logger
	observers []Observer
}

// New creates a Pipeline. Empty globs fall back to the defaults.
func New(sess *engine.Session, dest Destination, opts Options, log *zap.Logger, observers ...Observer) *Pipeline {
	if opts.SongGlob == "" {
		opts.SongGlob = DefaultSongGlob
	}
	if opts.LogGlob == "" {
		opts.LogGlob = DefaultLogGlob
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{sess: sess, dest: dest, opts: opts, log: log, observers: observers}
}

// Run executes the song catalog stage, then the activity log stage. The
// second stage joins against a view the first registers, so the order is
// fixed and a catalog failure stops the run.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}
	defer func() { result.Duration = time.Since(start) }()

	stages := []struct {
		name string
		fn   func(context.Context) (StageResult, error)
	}{
		{StageSongCatalog, p.ProcessSongData},
		{StageActivityLog, p.ProcessLogData},
	}

	for _, st := range stages {
		sr, err := p.runStage(ctx, st.name, st.fn)
		result.Stages = append(result.Stages, sr)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

func (p *Pipeline) runStage(ctx context.Context, name string, fn func(context.Context) (StageResult, error)) (StageResult, error) {
	log := p.log.With(zap.String("stage", name))
	log.Info("stage started")

	start := time.Now()
	sr, err := fn(ctx)
	sr.Name = name
	sr.Duration = time.Since(start)

	for _, o := range p.observers {
		o.StageFinished(name, sr.Duration, err)
	}

	if err != nil {
		log.Error("stage failed",
			zap.Duration("duration", sr.Duration),
			zap.Stringer("kind", engine.KindOf(err)),
			zap.Error(err),
		)
		return sr, err
	}
	log.Info("stage finished",
		zap.Duration("duration", sr.Duration),
		zap.Int("tables", len(sr.Tables)),
		zap.Bool("empty_input", sr.EmptyInput),
	)
	return sr, nil
}

// load reads glob below the input root. When nothing matches and input is
// not strict, it returns an empty table with the declared schema instead.
func (p *Pipeline) load(ctx context.Context, glob string, schema engine.Schema) (*engine.Table, bool, error) {
	pattern := filepath.Join(p.opts.InputRoot, glob)
	tbl, err := p.sess.Load(ctx, pattern, engine.FormatJSON, schema)
	if err == nil {
		return tbl, false, nil
	}
	if !errors.Is(err, engine.ErrNoInputData) || p.opts.StrictInput {
		return nil, false, err
	}

	p.log.Warn("no input files matched, writing empty tables", zap.String("pattern", pattern))
	tbl, err = p.sess.Empty(ctx, schema)
	return tbl, true, err
}

// write stages, writes and publishes one table.
func (p *Pipeline) write(ctx context.Context, name string, tbl *engine.Table, partitionBy []string) (TableResult, error) {
	staged, err := p.dest.Stage(name)
	if err != nil {
		return TableResult{}, &engine.Error{Kind: engine.KindWrite, Op: "stage " + name, Cause: err}
	}

	wr, err := tbl.WritePartitioned(ctx, staged, partitionBy, true)
	if err != nil {
		return TableResult{}, err
	}

	location, err := p.dest.Publish(ctx, name, staged)
	if err != nil {
		return TableResult{}, &engine.Error{Kind: engine.KindWrite, Op: "publish " + name, Cause: err}
	}

	tr := TableResult{
		Name:        name,
		Location:    location,
		PartitionBy: wr.PartitionBy,
		Rows:        wr.Rows,
		Files:       wr.Files,
		Bytes:       wr.Bytes,
	}
	p.log.Info("table written",
		zap.String("table", name),
		zap.String("location", location),
		zap.Int64("rows", tr.Rows),
		zap.Int("files", tr.Files),
		zap.Strings("partition_by", tr.PartitionBy),
	)
	for _, o := range p.observers {
		o.TableWritten(tr)
	}
	return tr, nil
}
