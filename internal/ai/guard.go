package ai

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/valuecalc/internal/ai/llm"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

const maxReasonBytes = 1000

// Guarded wraps a classifier with a per-call deadline, panic recovery and
// output normalization. The batch runner only ever talks to a Guarded.
type Guarded struct {
	inner   models.Classifier
	timeout time.Duration
	logger  *slog.Logger
}

// NewGuarded wraps c. A zero timeout leaves the caller's deadline in charge.
func NewGuarded(c models.Classifier, timeout time.Duration, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{inner: c, timeout: timeout, logger: logger}
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) Classify(ctx context.Context, req models.ClassificationRequest) (results []models.ClassificationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.ErrorContext(ctx, "panic in classifier", "provider", g.inner.Name(), "error", r)
			results = nil
			err = llm.Fatal(g.inner.Name(), fmt.Errorf("panic: %v", r))
		}
	}()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	results, err = g.inner.Classify(ctx, req)
	g.logger.DebugContext(ctx, "classifier call",
		"provider", g.inner.Name(),
		"items", len(req.Items),
		"results", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err)
	if err != nil {
		return nil, err
	}

	for i := range results {
		r := &results[i]
		if r.Confidence < 0 {
			r.Confidence = 0
		}
		if r.Confidence > 1.0 {
			r.Confidence = 1.0
		}
		r.Reason = truncateString(r.Reason, maxReasonBytes)
	}
	return results, nil
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

var _ models.Classifier = (*Guarded)(nil)
