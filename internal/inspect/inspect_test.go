package inspect

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songlake/internal/engine"
	"songlake/internal/pipeline"
)

func newSession(t *testing.T) *engine.Session {
	t.Helper()
	sess, err := engine.NewSession(context.Background(), engine.Config{Threads: 1})
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess
}

// writeOutput writes song (partitioned) and user tables below a temp root.
func writeOutput(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	sess := newSession(t)
	in := t.TempDir()
	root := t.TempDir()

	songs := filepath.Join(in, "songs.json")
	require.NoError(t, os.WriteFile(songs, []byte(
		`{"song_id": "S1", "title": "a", "artist_id": "A1", "year": 2006, "duration": 1.5}`+"\n"+
			`{"song_id": "S2", "title": "b", "artist_id": "A1", "year": 2006, "duration": 2.5}`+"\n"+
			`{"song_id": "S3", "title": "c", "artist_id": "A2", "year": 0, "duration": 3.5}`+"\n"), 0o644))
	users := filepath.Join(in, "users.json")
	require.NoError(t, os.WriteFile(users, []byte(
		`{"userId": "26", "level": "paid"}`+"\n"), 0o644))

	tbl, err := sess.Load(ctx, songs, engine.FormatJSON, nil)
	require.NoError(t, err)
	_, err = tbl.WritePartitioned(ctx, filepath.Join(root, pipeline.TableSongs), []string{"year", "artist_id"}, true)
	require.NoError(t, err)

	tbl, err = sess.Load(ctx, users, engine.FormatJSON, nil)
	require.NoError(t, err)
	_, err = tbl.WritePartitioned(ctx, filepath.Join(root, pipeline.TableUsers), nil, true)
	require.NoError(t, err)
	return root
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	root := writeOutput(t)

	in, err := Open(ctx, newSession(t), root)
	require.NoError(t, err)
	assert.Equal(t, []string{pipeline.TableSongs, pipeline.TableUsers}, in.Tables())

	_, err = Open(ctx, newSession(t), t.TempDir())
	assert.ErrorIs(t, err, ErrNoTables)
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	in, err := Open(ctx, newSession(t), writeOutput(t))
	require.NoError(t, err)

	t.Run("aggregate over partitions", func(t *testing.T) {
		res, err := in.Query(ctx, "SELECT year, COUNT(*) AS n FROM song GROUP BY year ORDER BY year")
		require.NoError(t, err)
		assert.Equal(t, []string{"year", "n"}, res.Columns)
		require.Equal(t, 2, res.Count)
		assert.EqualValues(t, 0, res.Rows[0]["year"])
		assert.EqualValues(t, 1, res.Rows[0]["n"])
		assert.EqualValues(t, 2, res.Rows[1]["n"])
	})

	t.Run("quoted keyword table", func(t *testing.T) {
		res, err := in.Query(ctx, `SELECT level FROM "user"`)
		require.NoError(t, err)
		require.Equal(t, 1, res.Count)
		assert.Equal(t, "paid", res.Rows[0]["level"])
	})

	t.Run("empty result", func(t *testing.T) {
		res, err := in.Query(ctx, "SELECT * FROM song WHERE title = 'zzz'")
		require.NoError(t, err)
		assert.Zero(t, res.Count)
		assert.NotNil(t, res.Rows)
	})

	t.Run("rejected statement", func(t *testing.T) {
		_, err := in.Query(ctx, "DROP VIEW song")
		assert.ErrorIs(t, err, ErrNotSelect)
	})

	t.Run("engine error", func(t *testing.T) {
		_, err := in.Query(ctx, "SELECT nope FROM song")
		assert.Error(t, err)
	})
}

func TestValidateQuery(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		want    string
		wantErr error
	}{
		{name: "adds limit", sql: " SELECT * FROM song ", want: "SELECT * FROM song LIMIT 1000"},
		{name: "keeps limit", sql: "select * from song limit 5", want: "select * from song limit 5"},
		{name: "with clause", sql: "WITH s AS (SELECT 1) SELECT * FROM s", want: "WITH s AS (SELECT 1) SELECT * FROM s LIMIT 1000"},
		{name: "empty", sql: "  ", wantErr: ErrEmptyQuery},
		{name: "not select", sql: "DELETE FROM song", wantErr: ErrNotSelect},
		{name: "multi statement", sql: "SELECT 1; DROP VIEW song", wantErr: ErrMultiStatement},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateQuery(tt.sql)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	root := writeOutput(t)
	in, err := Open(ctx, newSession(t), root)
	require.NoError(t, err)

	stats, err := in.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, root, stats.Root)
	require.Len(t, stats.Tables, 2)

	song := stats.Tables[0]
	assert.Equal(t, pipeline.TableSongs, song.Name)
	assert.EqualValues(t, 3, song.Rows)
	assert.GreaterOrEqual(t, song.Files, 2) // at least one per (year, artist_id)
	assert.Positive(t, song.SizeBytes)

	assert.EqualValues(t, 1, stats.Tables[1].Rows)
	assert.Nil(t, stats.LastRun)
}
