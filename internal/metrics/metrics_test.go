package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songlake/internal/pipeline"
)

func TestRecorderObserver(t *testing.T) {
	r := NewRecorder()

	r.TableWritten(pipeline.TableResult{Name: "song", Rows: 71, Bytes: 2048})
	r.TableWritten(pipeline.TableResult{Name: "song", Rows: 4, Bytes: 10})
	r.TableWritten(pipeline.TableResult{Name: "user", Rows: 2})
	r.StageFinished(pipeline.StageSongCatalog, 1500*time.Millisecond, nil)
	r.StageFinished(pipeline.StageActivityLog, time.Second, errors.New("boom"))

	assert.Equal(t, 75.0, testutil.ToFloat64(r.rowsWritten.WithLabelValues("song")))
	assert.Equal(t, 2058.0, testutil.ToFloat64(r.bytesWritten.WithLabelValues("song")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.rowsWritten.WithLabelValues("user")))
	assert.Equal(t, 1.5, testutil.ToFloat64(r.stageDuration.WithLabelValues(pipeline.StageSongCatalog)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stageDuration.WithLabelValues(pipeline.StageActivityLog)))
}

func TestObserveRun(t *testing.T) {
	r := NewRecorder()
	finished := time.Unix(1700000000, 0)

	r.ObserveRun(nil, finished)
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(r.lastSuccess))
	assert.Zero(t, testutil.ToFloat64(r.runFailures))

	r.ObserveRun(errors.New("boom"), finished.Add(time.Hour))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(r.lastSuccess))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runFailures))
}

func TestPush(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		body, _ := io.ReadAll(req.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRecorder()
	r.TableWritten(pipeline.TableResult{Name: "song", Rows: 3})

	err := r.Push(context.Background(), srv.URL, "songlake", map[string]string{"run_id": "abc", "": "skipped"})
	require.NoError(t, err)
	assert.Equal(t, "/metrics/job/songlake/run_id/abc", gotPath)
	assert.Contains(t, gotBody, "songlake_rows_written_total")
}

func TestPushValidation(t *testing.T) {
	r := NewRecorder()
	assert.Error(t, r.Push(context.Background(), "", "songlake", nil))
	assert.Error(t, r.Push(context.Background(), "http://localhost:9091", " ", nil))
}

func TestPushServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	assert.Error(t, NewRecorder().Push(context.Background(), srv.URL, "songlake", nil))
}
