// Package report sends run summaries as OTLP/HTTP log records.
package report

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	collectorlogsv1 "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
	logsv1 "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcev1 "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/protobuf/proto"

	"songlake/internal/history"
)

const (
	logsPath     = "/v1/logs"
	scopeName    = "songlake/report"
	protobufType = "application/x-protobuf"
)

// Exporter posts run reports to an OTLP/HTTP collector.
type Exporter struct {
	url     string
	service string
	client  *http.Client
}

// NewExporter returns an exporter for endpoint. A bare host:port gets an
// http:// scheme and every endpoint gets the /v1/logs path.
func NewExporter(endpoint, service string) *Exporter {
	return &Exporter{
		url:     logsURL(endpoint),
		service: service,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// URL is where reports are posted.
func (e *Exporter) URL() string {
	return e.url
}

// Export sends run as one log record per table plus one for the run.
func (e *Exporter) Export(ctx context.Context, run history.Run) error {
	body, err := proto.Marshal(BuildRequest(e.service, run))
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return fmt.Errorf("compressing report: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compressing report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", protobufType)
	req.Header.Set("Content-Encoding", "gzip")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting report: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("posting report: collector returned %s", resp.Status)
	}

	if len(respBody) == 0 || !strings.HasPrefix(resp.Header.Get("Content-Type"), protobufType) {
		return nil
	}
	out := &collectorlogsv1.ExportLogsServiceResponse{}
	if err := proto.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding collector response: %w", err)
	}
	if ps := out.GetPartialSuccess(); ps != nil && ps.RejectedLogRecords > 0 {
		return fmt.Errorf("collector rejected %d log records: %s", ps.RejectedLogRecords, ps.ErrorMessage)
	}
	return nil
}

// BuildRequest converts run into an OTLP logs request.
func BuildRequest(service string, run history.Run) *collectorlogsv1.ExportLogsServiceRequest {
	ts := unixNano(run.FinishedAt)
	observed := unixNano(time.Now())

	records := make([]*logsv1.LogRecord, 0, len(run.Tables)+1)
	for _, t := range run.Tables {
		records = append(records, &logsv1.LogRecord{
			TimeUnixNano:         ts,
			ObservedTimeUnixNano: observed,
			SeverityNumber:       logsv1.SeverityNumber_SEVERITY_NUMBER_INFO,
			SeverityText:         "INFO",
			Body:                 toAnyValue("table written"),
			Attributes: []*commonv1.KeyValue{
				attr("run.id", run.ID),
				attr("table.name", t.Name),
				attr("table.location", t.Location),
				attr("table.rows", t.Rows),
				attr("table.files", t.Files),
				attr("table.bytes", t.Bytes),
			},
		})
	}

	severity, text := logsv1.SeverityNumber_SEVERITY_NUMBER_INFO, "INFO"
	if run.Status == history.StatusFailed {
		severity, text = logsv1.SeverityNumber_SEVERITY_NUMBER_ERROR, "ERROR"
	}
	runAttrs := []*commonv1.KeyValue{
		attr("run.id", run.ID),
		attr("run.status", run.Status),
		attr("run.started_at", run.StartedAt),
		attr("run.duration_ms", run.Duration()),
		attr("run.input", run.Input),
		attr("run.output", run.Output),
		attr("run.tables", len(run.Tables)),
	}
	if run.Error != "" {
		runAttrs = append(runAttrs, attr("run.error", run.Error))
	}
	records = append(records, &logsv1.LogRecord{
		TimeUnixNano:         ts,
		ObservedTimeUnixNano: observed,
		SeverityNumber:       severity,
		SeverityText:         text,
		Body:                 toAnyValue("run " + run.Status),
		Attributes:           runAttrs,
	})

	return &collectorlogsv1.ExportLogsServiceRequest{
		ResourceLogs: []*logsv1.ResourceLogs{{
			Resource: &resourcev1.Resource{
				Attributes: []*commonv1.KeyValue{attr("service.name", service)},
			},
			ScopeLogs: []*logsv1.ScopeLogs{{
				Scope:      &commonv1.InstrumentationScope{Name: scopeName},
				LogRecords: records,
			}},
		}},
	}
}

func logsURL(endpoint string) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	if strings.HasSuffix(endpoint, logsPath) {
		return endpoint
	}
	return endpoint + logsPath
}
