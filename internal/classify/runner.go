package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/internal/ai/llm"
	"github.com/kiranshivaraju/valuecalc/internal/config"
	"github.com/kiranshivaraju/valuecalc/internal/logging"
	"github.com/kiranshivaraju/valuecalc/internal/store"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

const (
	msgNoResult  = "no result returned"
	quotaWindow  = 24 * time.Hour
	defaultBatch = 20
)

// RunnerStore is what the batch runner reads and writes.
type RunnerStore interface {
	MarkWorkItemsProcessing(ctx context.Context, ids []uuid.UUID) error
	CommitBatch(ctx context.Context, commit store.BatchCommit) (models.WorkItemCounts, error)
	CountUsageSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (store.Usage, error)
}

// Settings tune the runner. Zero values fall back to safe defaults.
type Settings struct {
	BatchSize  int
	BatchDelay time.Duration
	MaxRetries int
	RetryDelay time.Duration
	DailyQuota int
	QuotaMode  string
}

// SettingsFrom maps the service configuration onto runner settings.
func SettingsFrom(cfg config.ClassifyConfig) Settings {
	return Settings{
		BatchSize:  cfg.BatchSize,
		BatchDelay: cfg.BatchDelay,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		DailyQuota: cfg.DailyQuota,
		QuotaMode:  cfg.QuotaMode,
	}
}

// Outcome is how a drain ended when it did not fail.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomePaused
)

// Plan is what a run resolves once before its first batch.
type Plan struct {
	Task       *models.Task
	Module     *models.PromptModule
	Dimensions []models.Dimension
}

// Runner drains a backlog in fixed-size batches against the classifier.
// Batches run strictly one after another.
type Runner struct {
	store      RunnerStore
	classifier models.Classifier
	publish    func(ctx context.Context, t *models.Task)
	settings   Settings
	logger     *slog.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewRunner(st RunnerStore, c models.Classifier, s Settings, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if s.BatchSize <= 0 {
		s.BatchSize = defaultBatch
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	return &Runner{
		store:      st,
		classifier: c,
		publish:    func(context.Context, *models.Task) {},
		settings:   s,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		sleep:      sleep,
	}
}

// Drain classifies items batch by batch. It stops early with OutcomePaused
// when the quota is spent; the pause message is returned alongside.
// Per-batch classifier failures are recorded on the items and do not stop
// the drain. Store failures and context cancellation do.
func (r *Runner) Drain(ctx context.Context, p *Plan, items []*models.WorkItem) (Outcome, string, error) {
	batchNo := 0
	for start := 0; start < len(items); {
		if err := ctx.Err(); err != nil {
			return OutcomeCompleted, "", err
		}

		allowance, msg, err := r.allowance(ctx, p.Task.TenantID)
		if err != nil {
			return OutcomeCompleted, "", err
		}
		if allowance <= 0 {
			return OutcomePaused, msg, nil
		}

		end := min(start+r.settings.BatchSize, len(items))
		if end-start > allowance {
			end = start + allowance
		}
		batch := items[start:end]
		start = end
		batchNo++

		if err := r.runBatch(logging.WithBatch(ctx, batchNo), p, batch); err != nil {
			return OutcomeCompleted, "", err
		}

		if start < len(items) {
			if err := r.sleep(ctx, r.settings.BatchDelay); err != nil {
				return OutcomeCompleted, "", err
			}
		}
	}
	return OutcomeCompleted, "", nil
}

// allowance returns how many more items may be dispatched now. In calls
// mode any positive allowance admits one full batch.
func (r *Runner) allowance(ctx context.Context, tenantID uuid.UUID) (int, string, error) {
	quota := r.settings.DailyQuota
	if quota <= 0 {
		return r.settings.BatchSize, "", nil
	}
	usage, err := r.store.CountUsageSince(ctx, tenantID, r.now().Add(-quotaWindow))
	if err != nil {
		return 0, "", fmt.Errorf("count usage: %w", err)
	}

	used, unit := usage.Items, "items"
	if r.settings.QuotaMode == config.QuotaModeCalls {
		used, unit = usage.Calls, "calls"
	}
	left := quota - used
	if left <= 0 {
		return 0, fmt.Sprintf("daily classification quota reached (%d/%d %s); continue after it resets", used, quota, unit), nil
	}
	if r.settings.QuotaMode == config.QuotaModeCalls {
		return r.settings.BatchSize, "", nil
	}
	return left, "", nil
}

func (r *Runner) runBatch(ctx context.Context, p *Plan, batch []*models.WorkItem) error {
	ids := make([]uuid.UUID, len(batch))
	for i, it := range batch {
		ids[i] = it.ID
	}
	if err := r.store.MarkWorkItemsProcessing(ctx, ids); err != nil {
		return fmt.Errorf("mark batch processing: %w", err)
	}

	req := r.request(p, batch)
	results, callErr := r.classifyWithRetry(ctx, req)
	if callErr != nil && ctx.Err() != nil {
		// Abandoned mid-call; the items stay processing until a continuation resets them.
		return ctx.Err()
	}

	var outcomes []models.WorkItemOutcome
	if callErr != nil {
		r.logger.WarnContext(ctx, "classification batch failed",
			"items", len(batch), "kind", llm.KindOf(callErr).String(), "error", callErr)
		outcomes = failAll(batch, callErr.Error())
	} else {
		outcomes = match(batch, results, p.Dimensions)
	}

	commit := store.BatchCommit{
		TaskID:   p.Task.ID,
		Outcomes: outcomes,
		Usage: &models.UsageLedgerEntry{
			ID:        uuid.New(),
			TenantID:  p.Task.TenantID,
			TaskID:    p.Task.ID,
			Provider:  r.classifier.Name(),
			Model:     req.Model,
			ItemCount: len(batch),
			Success:   callErr == nil,
			CreatedAt: r.now(),
		},
	}
	counts, err := r.store.CommitBatch(ctx, commit)
	if err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	p.Task.TotalItems = counts.Total()
	p.Task.ProcessedItems = counts.Completed
	p.Task.FailedItems = counts.Failed
	p.Task.Progress = models.Progress(counts.Completed+counts.Failed, counts.Total())
	p.Task.UpdatedAt = r.now()
	r.publish(ctx, p.Task)

	r.logger.InfoContext(ctx, "classification batch committed",
		"items", len(batch), "completed", counts.Completed, "failed", counts.Failed, "total", counts.Total())
	return nil
}

func (r *Runner) request(p *Plan, batch []*models.WorkItem) models.ClassificationRequest {
	req := models.ClassificationRequest{
		Dimensions: p.Dimensions,
		Items:      make([]models.ClassificationItem, len(batch)),
	}
	if p.Module != nil {
		req.Model = p.Module.ModelName
		req.SystemPrompt = p.Module.SystemPrompt
		req.Temperature = p.Module.Temperature
	}
	for i, it := range batch {
		req.Items[i] = models.ClassificationItem{
			ID:   it.ItemID.String(),
			Code: it.ItemCode,
			Name: it.ItemName,
		}
	}
	return req
}

// classifyWithRetry retries transient failures up to MaxRetries times with a
// fixed delay. Validation and fatal errors return at once.
func (r *Runner) classifyWithRetry(ctx context.Context, req models.ClassificationRequest) ([]models.ClassificationResult, error) {
	for attempt := 0; ; attempt++ {
		results, err := r.classifier.Classify(ctx, req)
		if err == nil {
			return results, nil
		}
		if ctx.Err() != nil || !llm.IsRetryable(err) || attempt >= r.settings.MaxRetries {
			return nil, err
		}
		r.logger.WarnContext(ctx, "classifier call failed, retrying",
			"attempt", attempt+1, "max_retries", r.settings.MaxRetries, "error", err)
		if err := r.sleep(ctx, r.settings.RetryDelay); err != nil {
			return nil, err
		}
	}
}

func failAll(batch []*models.WorkItem, msg string) []models.WorkItemOutcome {
	out := make([]models.WorkItemOutcome, len(batch))
	for i, it := range batch {
		m := msg
		out[i] = models.WorkItemOutcome{ItemID: it.ItemID, Status: models.WorkItemFailed, Error: &m}
	}
	return out
}

// match pairs results with items by name first and id second, since
// providers do not always echo ids verbatim. Items whose name is shared with
// another item in the batch are matched by id first. Dimensions are accepted
// by id or code.
func match(batch []*models.WorkItem, results []models.ClassificationResult, dims []models.Dimension) []models.WorkItemOutcome {
	byName := make(map[string]*models.ClassificationResult, len(results))
	byID := make(map[string]*models.ClassificationResult, len(results))
	for i := range results {
		res := &results[i]
		if k := normalize(res.ItemName); k != "" {
			if _, dup := byName[k]; !dup {
				byName[k] = res
			}
		}
		if k := normalize(res.ItemID); k != "" {
			if _, dup := byID[k]; !dup {
				byID[k] = res
			}
		}
	}

	dimByKey := make(map[string]uuid.UUID, len(dims)*2)
	for _, d := range dims {
		dimByKey[normalize(d.ID.String())] = d.ID
		if d.Code != "" {
			if _, taken := dimByKey[normalize(d.Code)]; !taken {
				dimByKey[normalize(d.Code)] = d.ID
			}
		}
	}

	names := make(map[string]int, len(batch))
	for _, it := range batch {
		names[normalize(it.ItemName)]++
	}

	out := make([]models.WorkItemOutcome, len(batch))
	for i, it := range batch {
		o := models.WorkItemOutcome{ItemID: it.ItemID, Status: models.WorkItemFailed}

		name, id := normalize(it.ItemName), normalize(it.ItemID.String())
		var res *models.ClassificationResult
		if names[name] > 1 {
			res = byID[id]
			if res == nil {
				res = byName[name]
			}
		} else {
			res = byName[name]
			if res == nil {
				res = byID[id]
			}
		}
		switch {
		case res == nil:
			o.Error = ptr(msgNoResult)
		default:
			dimID, ok := dimByKey[normalize(res.DimensionID)]
			if !ok {
				o.Error = ptr(fmt.Sprintf("unknown dimension %q", res.DimensionID))
				break
			}
			conf := res.Confidence
			o.Status = models.WorkItemCompleted
			o.DimensionID = &dimID
			o.Confidence = &conf
			if res.Reason != "" {
				o.Reason = ptr(res.Reason)
			}
		}
		out[i] = o
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func ptr(s string) *string { return &s }

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
