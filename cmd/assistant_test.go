package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/safety"
)

func TestAssistantStatusLogsUsage(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	a, err := newApp(context.Background(), testConfig(t), zap.New(core), eventsLocal)
	require.NoError(t, err)
	defer a.Close()

	ctx := candidate.WithID(context.Background(), "alice")
	require.NoError(t, handleAssistantAction(ctx, a, PromptStatus))

	entries := logs.FilterMessage("assistant status").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "idle", fields["state"])
	assert.EqualValues(t, 0, fields["submissions"])
	assert.EqualValues(t, safety.DefaultDailyLimit, fields["daily_limit"])
}
