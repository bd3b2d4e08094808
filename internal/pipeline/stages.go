package pipeline

import (
	"context"

	"songlake/internal/engine"
)

// ProcessSongData loads the song catalog, writes the song and artist tables
// and registers the catalog as SongDataView for ProcessLogData.
func (p *Pipeline) ProcessSongData(ctx context.Context) (StageResult, error) {
	var sr StageResult

	catalog, empty, err := p.load(ctx, p.opts.SongGlob, SongSchema)
	if err != nil {
		return sr, err
	}
	sr.EmptyInput = empty

	songs, err := catalog.Project(ctx, songColumns...)
	if err != nil {
		return sr, err
	}
	tr, err := p.write(ctx, TableSongs, songs, songPartitions)
	if err != nil {
		return sr, err
	}
	sr.Tables = append(sr.Tables, tr)

	// An artist appears once per song, sometimes with differing name or
	// location. The attributes of the artist's newest song win.
	latest, err := catalog.LatestBy(ctx, "artist_id", "year", "song_id")
	if err != nil {
		return sr, err
	}
	artists, err := latest.Project(ctx, artistColumns...)
	if err != nil {
		return sr, err
	}
	tr, err = p.write(ctx, TableArtists, artists, artistPartitions)
	if err != nil {
		return sr, err
	}
	sr.Tables = append(sr.Tables, tr)

	if err := catalog.RegisterView(ctx, SongDataView); err != nil {
		return sr, err
	}
	return sr, nil
}

// ProcessLogData loads activity events, keeps song plays and writes the
// user, time and songplays tables. It requires SongDataView.
func (p *Pipeline) ProcessLogData(ctx context.Context) (StageResult, error) {
	var sr StageResult

	// Resolve the catalog first so a missing view fails before any writes.
	catalog, err := p.sess.View(ctx, SongDataView)
	if err != nil {
		return sr, err
	}

	events, empty, err := p.load(ctx, p.opts.LogGlob, LogSchema)
	if err != nil {
		return sr, err
	}
	sr.EmptyInput = empty

	plays, err := events.Filter(ctx, engine.Eq("page", NextSongPage))
	if err != nil {
		return sr, err
	}

	// Users: the latest event per user wins, so level reflects the
	// subscription at the user's most recent play.
	latest, err := plays.LatestBy(ctx, "userId", "ts", "sessionId", "itemInSession")
	if err != nil {
		return sr, err
	}
	users, err := latest.Project(ctx, userColumns...)
	if err != nil {
		return sr, err
	}
	tr, err := p.write(ctx, TableUsers, users, nil)
	if err != nil {
		return sr, err
	}
	sr.Tables = append(sr.Tables, tr)

	enriched, err := withCalendar(ctx, plays)
	if err != nil {
		return sr, err
	}

	// Every derived field is a function of ts, so distinct rows are one per ts.
	times, err := enriched.Project(ctx, timeColumns...)
	if err != nil {
		return sr, err
	}
	if times, err = times.Distinct(ctx); err != nil {
		return sr, err
	}
	tr, err = p.write(ctx, TableTime, times, timePartitions)
	if err != nil {
		return sr, err
	}
	sr.Tables = append(sr.Tables, tr)

	joined, err := enriched.Join(ctx, catalog, songplayJoin...)
	if err != nil {
		return sr, err
	}
	songplays, err := joined.Project(ctx, songplayColumns...)
	if err != nil {
		return sr, err
	}
	if songplays, err = songplays.Distinct(ctx); err != nil {
		return sr, err
	}
	tr, err = p.write(ctx, TableSongplays, songplays, songplayPartitions)
	if err != nil {
		return sr, err
	}
	sr.Tables = append(sr.Tables, tr)

	return sr, nil
}

// withCalendar adds timestamp, datetime, day, month, year, week and hour,
// all derived from the epoch-millisecond ts column in UTC.
func withCalendar(ctx context.Context, t *engine.Table) (*engine.Table, error) {
	steps := []struct {
		name string
		expr engine.Expr
	}{
		{"timestamp", engine.EpochMillis("ts")},
		{"datetime", engine.EpochMillisDate("ts")},
		{"day", engine.DatePart("day", "timestamp")},
		{"month", engine.DatePart("month", "timestamp")},
		{"year", engine.DatePart("year", "timestamp")},
		{"week", engine.DatePart("week", "timestamp")},
		{"hour", engine.DatePart("hour", "timestamp")},
	}

	var err error
	for _, s := range steps {
		if t, err = t.WithColumn(ctx, s.name, s.expr); err != nil {
			return nil, err
		}
	}
	return t, nil
}
