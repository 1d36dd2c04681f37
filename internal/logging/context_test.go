package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationHandler_InjectsContextIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithTenantID(context.Background(), "t1")
	ctx = WithRunID(ctx, "run-42")
	ctx = WithStep(ctx, "test_certification")

	logger.InfoContext(ctx, "step completed")

	out := buf.String()
	assert.Contains(t, out, "tenant_id=t1")
	assert.Contains(t, out, "run_id=run-42")
	assert.Contains(t, out, "step=test_certification")
}

func TestCorrelationHandler_EmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	logger.Info("no correlation")

	out := buf.String()
	assert.NotContains(t, out, "tenant_id")
	assert.NotContains(t, out, "run_id")
}
