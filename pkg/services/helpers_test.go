package services_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/leadflow/pkg/cmd"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence/file"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const nurtureDocument = `{
	"name": "MBA nurture",
	"elements": [
		{"id": "welcome", "type": "action", "config": {"kind": "send_email", "subject": "Welcome", "body": "Hi {{ .lead.first_name }}"}},
		{"id": "wait", "type": "delay", "config": {"amount": 2, "unit": "days"}},
		{"id": "reminder", "type": "action", "config": {"kind": "send_sms", "body": "Still interested?"}}
	]
}`

type env struct {
	ctx   context.Context
	p     *file.Persistence
	core  *cmd.Core
	clock *clockwork.FakeClock
}

func newEnv(t *testing.T) *env {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	p := file.NewPersistence(t.TempDir())

	core, err := cmd.NewCore(ctx, p, cmd.CoreConfig{ServiceName: "leadflow-test"}, logger)
	require.NoError(t, err)

	for _, stage := range []*models.Stage{
		{ID: "applied", Name: "Applied", NextStageID: "review"},
		{ID: "review", Name: "Review", NextStageID: "enrolled"},
		{ID: "enrolled", Name: "Enrolled"},
	} {
		require.NoError(t, p.StageRepository().SaveStage(ctx, stage))
	}

	require.NoError(t, p.LeadRepository().Save(ctx, &models.Lead{
		ID:             "lead-1",
		FirstName:      "Ana",
		Email:          "ana@example.com",
		Phone:          "+5511999999999",
		StageID:        "applied",
		StageEnteredAt: t0.Add(-time.Hour),
		CreatedAt:      t0.Add(-time.Hour),
	}))

	return &env{ctx: ctx, p: p, core: core, clock: clockwork.NewFakeClockAt(t0)}
}
