package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

// uploadReport archives the terminal execution record to S3 as
// zstd-compressed JSON. Best-effort: failures are logged and never alter
// execution state.
func (e *Engine) uploadReport(ctx context.Context, exec *Execution) {
	if e.reports == nil || e.reportBucket == "" {
		return
	}

	data, err := json.MarshalIndent(exec, "", "  ")
	if err != nil {
		e.log.Warn().Err(err).Str("execution", exec.ID).Msg("report marshal failed")
		return
	}

	var buf bytes.Buffer
	encoder, err := zstd.NewWriter(&buf)
	if err != nil {
		e.log.Warn().Err(err).Str("execution", exec.ID).Msg("report compression failed")
		return
	}
	if _, err := encoder.Write(data); err != nil {
		encoder.Close()
		e.log.Warn().Err(err).Str("execution", exec.ID).Msg("report compression failed")
		return
	}
	if err := encoder.Close(); err != nil {
		e.log.Warn().Err(err).Str("execution", exec.ID).Msg("report compression failed")
		return
	}

	key := reportKey(exec.ID)
	if err := e.reports.PutObject(ctx, e.reportBucket, key, buf.Bytes()); err != nil {
		e.log.Warn().Err(err).Str("execution", exec.ID).Str("key", key).
			Msg("report upload failed")
		return
	}

	e.log.Info().Str("execution", exec.ID).Str("key", key).Msg("report uploaded")
}

// ReportURL returns a presigned URL for a terminal execution's report.
func (e *Engine) ReportURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	if e.reports == nil || e.reportBucket == "" {
		return "", errors.New("report storage is not configured")
	}

	exec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return "", err
	}
	if !exec.Status.Terminal() {
		return "", fmt.Errorf("execution %s has no report yet", id)
	}

	return e.reports.PresignGet(ctx, e.reportBucket, reportKey(id), ttl)
}

func reportKey(executionID string) string {
	return fmt.Sprintf("executions/%s.json.zst", executionID)
}
