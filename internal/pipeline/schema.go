package pipeline

import "songlake/internal/engine"

// Input schemas for the two raw datasets.
// Keys missing from a record load as NULL; keys not listed here are ignored.

// SongSchema is one Million Song Dataset metadata document.
var SongSchema = engine.Schema{
	{Name: "num_songs", Type: "BIGINT"},
	{Name: "artist_id", Type: "VARCHAR"},
	{Name: "artist_latitude", Type: "DOUBLE"},
	{Name: "artist_longitude", Type: "DOUBLE"},
	{Name: "artist_location", Type: "VARCHAR"},
	{Name: "artist_name", Type: "VARCHAR"},
	{Name: "song_id", Type: "VARCHAR"},
	{Name: "title", Type: "VARCHAR"},
	{Name: "duration", Type: "DOUBLE"},
	{Name: "year", Type: "BIGINT"},
}

// LogSchema is one user activity event.
var LogSchema = engine.Schema{
	{Name: "artist", Type: "VARCHAR"},
	{Name: "auth", Type: "VARCHAR"},
	{Name: "firstName", Type: "VARCHAR"},
	{Name: "gender", Type: "VARCHAR"},
	{Name: "itemInSession", Type: "BIGINT"},
	{Name: "lastName", Type: "VARCHAR"},
	{Name: "length", Type: "DOUBLE"},
	{Name: "level", Type: "VARCHAR"},
	{Name: "location", Type: "VARCHAR"},
	{Name: "method", Type: "VARCHAR"},
	{Name: "page", Type: "VARCHAR"},
	{Name: "registration", Type: "DOUBLE"},
	{Name: "sessionId", Type: "BIGINT"},
	{Name: "song", Type: "VARCHAR"},
	{Name: "status", Type: "BIGINT"},
	{Name: "ts", Type: "BIGINT"},
	{Name: "userAgent", Type: "VARCHAR"},
	{Name: "userId", Type: "VARCHAR"},
}

// Output table names. Each is written to <output>/<name>.
const (
	TableSongs     = "song"
	TableArtists   = "artist"
	TableUsers     = "user"
	TableTime      = "time"
	TableSongplays = "songplays"
)

// Tables lists every output table in write order.
var Tables = []string{TableSongs, TableArtists, TableUsers, TableTime, TableSongplays}

// SongDataView is the name the catalog stage registers its input under.
// The activity stage joins against it.
const SongDataView = "song_data"

// NextSongPage marks a song-play event.
const NextSongPage = "NextSong"

var (
	songColumns = []string{
		"num_songs", "artist_id", "artist_latitude", "artist_longitude", "artist_location",
		"artist_name", "song_id", "title", "duration", "year",
	}
	songPartitions = []string{"year", "artist_id"}

	artistColumns = []string{
		"artist_id", "artist_name", "artist_location", "artist_latitude", "artist_longitude",
	}
	artistPartitions = []string{"artist_id"}

	userColumns = []string{"userId", "firstName", "lastName", "gender", "level"}

	timeColumns    = []string{"ts", "timestamp", "datetime", "month", "day", "year", "week", "hour"}
	timePartitions = []string{"year", "month"}

	songplayColumns = []string{
		"timestamp", "year", "month", "userId", "level", "song", "artist", "sessionId", "location", "userAgent",
	}
	songplayPartitions = []string{"year", "month"}
)

// songplayJoin matches events to catalog entries on artist name, title and duration.
var songplayJoin = []engine.JoinKey{
	engine.On("artist", "artist_name"),
	engine.On("song", "title"),
	engine.On("length", "duration"),
}
