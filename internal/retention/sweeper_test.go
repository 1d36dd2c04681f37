package retention

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewire/agentcore/internal/store"
	"github.com/tradewire/agentcore/pkg/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewSweeperRejectsBadInput(t *testing.T) {
	s := store.NewMemoryStore()

	_, err := NewSweeper(s, "not a cron expr", 24*time.Hour, testLogger())
	assert.Error(t, err)

	_, err = NewSweeper(s, "0 3 * * *", 0, testLogger())
	assert.Error(t, err)
}

func TestSweepPrunesAgedTerminalRecords(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	old := time.Now().UTC().Add(-48 * time.Hour)
	seed := []struct {
		status    schema.DeliveryStatus
		createdAt time.Time
	}{
		{schema.DeliveryStatusDelivered, old}, // pruned
		{schema.DeliveryStatusFailed, old},    // pruned
		{schema.DeliveryStatusPending, old},   // kept, not terminal
		{schema.DeliveryStatusDelivered, time.Now().UTC()}, // kept, too new
	}
	for _, row := range seed {
		require.NoError(t, s.CreateDelivery(ctx, &store.WebhookDelivery{
			ID:        uuid.NewString(),
			TenantID:  "acme",
			WebhookID: "wh-1",
			EventType: schema.EventRunCompleted,
			Status:    row.status,
			CreatedAt: row.createdAt,
		}))
	}
	require.NoError(t, s.CreateDeadLetter(ctx, &store.ToolDeadLetter{
		TenantID: "acme", RunID: "run-1", Tool: "project.plan.sync", CreatedAt: old,
	}))
	require.NoError(t, s.CreateDeadLetter(ctx, &store.ToolDeadLetter{
		TenantID: "acme", RunID: "run-2", Tool: "project.plan.sync",
	}))

	sweeper, err := NewSweeper(s, "0 3 * * *", 24*time.Hour, testLogger())
	require.NoError(t, err)
	sweeper.Sweep(ctx)

	deliveries, err := s.ListDeliveries(ctx, "acme", store.DeliveryFilter{})
	require.NoError(t, err)
	assert.Len(t, deliveries, 2)

	deadLetters, err := s.ListDeadLetters(ctx, "acme", 0)
	require.NoError(t, err)
	assert.Len(t, deadLetters, 1)
	assert.Equal(t, "run-2", deadLetters[0].RunID)
}

func TestSweeperStartStop(t *testing.T) {
	s := store.NewMemoryStore()
	sweeper, err := NewSweeper(s, "0 3 * * *", 24*time.Hour, testLogger())
	require.NoError(t, err)

	require.NoError(t, sweeper.Start(context.Background()))
	assert.Error(t, sweeper.Start(context.Background()))
	require.NoError(t, sweeper.Stop())
	require.NoError(t, sweeper.Stop())
}
