package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/internal/ai/mock"
	"github.com/kiranshivaraju/valuecalc/internal/apikey"
	"github.com/kiranshivaraju/valuecalc/internal/config"
	"github.com/kiranshivaraju/valuecalc/internal/datasource"
	"github.com/kiranshivaraju/valuecalc/internal/store/storetest"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultTenant = &models.Tenant{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Name: "default"}

type fixture struct {
	st     *storetest.Memory
	opened []bool
}

func newFixture() *fixture {
	st := storetest.New()
	st.AddTenant(defaultTenant)
	return &fixture{st: st}
}

func (f *fixture) open(_ context.Context, execute bool) (*backend, error) {
	f.opened = append(f.opened, execute)
	return &backend{
		cfg: &config.Config{
			Jobs:     config.JobsConfig{Workers: 1, QueueSize: 1, SoftTimeout: time.Minute, HardTimeout: time.Minute},
			Classify: config.ClassifyConfig{BatchSize: 10, MaxRetries: 1, DailyQuota: 1000, QuotaMode: config.QuotaModeItems},
		},
		store:      f.st,
		classifier: mock.NewMockProvider(),
		pools:      datasource.NewManager(f.st, datasource.Options{}, nil),
		logger:     slog.Default(),
		close:      func() {},
	}, nil
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(f.open, &out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (f *fixture) classificationTask(t *testing.T, items int) *models.Task {
	t.Helper()
	mv := uuid.New()
	f.st.AddDimensions(models.Dimension{ID: uuid.New(), ModelVersionID: mv, Code: "LAB", Name: "Laboratory"})
	for i := 0; i < items; i++ {
		f.st.AddCandidates(&models.CandidateItem{
			ID: uuid.New(), TenantID: defaultTenant.ID, Code: fmt.Sprintf("C%02d", i), Name: fmt.Sprintf("Charge %d", i),
		})
	}
	now := time.Now().UTC()
	tk := &models.Task{
		ID: uuid.New(), TenantID: defaultTenant.ID, Kind: models.TaskKindClassification, Name: "nightly",
		ModelVersionID: &mv, Status: models.TaskStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.st.CreateTask(context.Background(), tk))
	return tk
}

// ─── keys ───────────────────────────────────────────────────────────────────

func TestKeysCreate_PrintsRawKeyOnce(t *testing.T) {
	f := newFixture()

	out, err := f.run(t, "keys", "create", "ci", "--scope", apikey.ScopeRead, "--scope", apikey.ScopeWrite)
	require.NoError(t, err)

	raw := regexp.MustCompile(`Key: (vc_[0-9a-f]+)`).FindStringSubmatch(out)
	require.Len(t, raw, 2)

	keys, err := f.st.GetAPIKeyByPrefix(context.Background(), apikey.LookupPrefix(raw[1]))
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.True(t, apikey.Matches(keys[0].KeyHash, raw[1]))
	assert.Equal(t, defaultTenant.ID, keys[0].TenantID)
	assert.Equal(t, []string{apikey.ScopeRead, apikey.ScopeWrite}, keys[0].Scopes)
}

func TestKeysCreate_UnknownScopeFailsBeforeConnecting(t *testing.T) {
	f := newFixture()

	_, err := f.run(t, "keys", "create", "ci", "--scope", "root")
	require.ErrorContains(t, err, `unknown scope "root"`)
	assert.Empty(t, f.opened)
}

func TestKeysCreate_Duplicate(t *testing.T) {
	f := newFixture()
	_, err := f.run(t, "keys", "create", "ci")
	require.NoError(t, err)

	_, err = f.run(t, "keys", "create", "ci")
	require.ErrorContains(t, err, "already exists")
}

func TestKeysListAndRevoke(t *testing.T) {
	f := newFixture()
	_, err := f.run(t, "keys", "create", "ci")
	require.NoError(t, err)
	keys, err := f.st.ListAPIKeys(context.Background(), defaultTenant.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	out, err := f.run(t, "keys", "list")
	require.NoError(t, err)
	assert.Contains(t, out, keys[0].ID.String())
	assert.Contains(t, out, "never")

	out, err = f.run(t, "keys", "revoke", keys[0].ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Revoked")

	_, err = f.run(t, "keys", "revoke", keys[0].ID.String())
	require.ErrorContains(t, err, "not found")

	_, err = f.run(t, "keys", "revoke", keys[0].ID.String(), "--tenant", "nope")
	require.ErrorContains(t, err, "invalid tenant id")
}

// ─── task ───────────────────────────────────────────────────────────────────

func TestTaskRun_Classification(t *testing.T) {
	f := newFixture()
	tk := f.classificationTask(t, 12)

	out, err := f.run(t, "task", "run", tk.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Status: completed")
	assert.Contains(t, out, "Items: 12 total, 12 processed, 0 failed")
	assert.True(t, f.opened[0], "run needs an executing backend")

	out, err = f.run(t, "task", "status", tk.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Work items: 0 pending, 0 processing, 12 completed, 0 failed")
}

func TestTaskRun_RejectsNonPending(t *testing.T) {
	f := newFixture()
	tk := f.classificationTask(t, 1)
	f.st.ForceTaskStatus(tk.ID, models.TaskStatusCompleted)

	_, err := f.run(t, "task", "run", tk.ID.String())
	require.ErrorContains(t, err, "only pending tasks can be run")
}

func TestTaskRun_FailedTaskReturnsError(t *testing.T) {
	f := newFixture()
	tk := f.classificationTask(t, 0)

	out, err := f.run(t, "task", "run", tk.ID.String())
	require.Error(t, err)
	assert.Contains(t, out, "Status: failed")
}

func TestTaskContinue(t *testing.T) {
	f := newFixture()
	tk := f.classificationTask(t, 3)

	_, err := f.run(t, "task", "continue", tk.ID.String())
	require.Error(t, err, "pending tasks cannot be continued")

	_, err = f.run(t, "task", "run", tk.ID.String())
	require.NoError(t, err)
	f.st.ForceTaskStatus(tk.ID, models.TaskStatusPaused)

	out, err := f.run(t, "task", "continue", tk.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "continued")
	assert.Contains(t, out, "Status: completed")
}

func TestTaskStatus_InvalidID(t *testing.T) {
	f := newFixture()

	_, err := f.run(t, "task", "status", "123")
	require.ErrorContains(t, err, "invalid task id")
	assert.Empty(t, f.opened)
}

func TestTaskStatus_Calculation(t *testing.T) {
	f := newFixture()
	msg := "boom"
	now := time.Now().UTC()
	tk := &models.Task{
		ID: uuid.New(), TenantID: defaultTenant.ID, Kind: models.TaskKindCalculation, Name: "March close",
		Status: models.TaskStatusFailed, Progress: 50, ErrorMessage: &msg, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.st.CreateTask(context.Background(), tk))
	require.NoError(t, f.st.InsertStepLog(context.Background(), &models.StepExecutionLog{
		ID: uuid.New(), TaskID: tk.ID, StepName: "allocate", UnitName: "ICU", Status: models.StepLogFailed,
		StartedAt: now, DurationMS: 12, CreatedAt: now,
	}))

	out, err := f.run(t, "task", "status", tk.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Progress: 50.00%")
	assert.Contains(t, out, "Error: boom")
	assert.Contains(t, out, "allocate")
	assert.Contains(t, out, "ICU")
}
