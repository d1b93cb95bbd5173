// Package logging carries task correlation ids through contexts and into
// every slog record written with that context.
package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	tenantIDKey ctxKey = iota
	taskIDKey
	stepIDKey
	unitIDKey
	batchKey
)

var stringKeys = []struct {
	key  ctxKey
	attr string
}{
	{tenantIDKey, "tenant_id"},
	{taskIDKey, "task_id"},
	{stepIDKey, "step_id"},
	{unitIDKey, "unit_id"},
}

func WithTenantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantIDKey, id)
}

func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey, id)
}

func WithStepID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, stepIDKey, id)
}

func WithUnitID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, unitIDKey, id)
}

// WithBatch records the 1-based batch number of a classification run.
func WithBatch(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, batchKey, n)
}

func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantIDKey).(string)
	return v
}

// TaskID returns the task id on ctx, or "".
func TaskID(ctx context.Context) string {
	v, _ := ctx.Value(taskIDKey).(string)
	return v
}

func StepID(ctx context.Context) string {
	v, _ := ctx.Value(stepIDKey).(string)
	return v
}

func UnitID(ctx context.Context) string {
	v, _ := ctx.Value(unitIDKey).(string)
	return v
}

// Batch returns the batch number on ctx, or 0.
func Batch(ctx context.Context) int {
	v, _ := ctx.Value(batchKey).(int)
	return v
}

func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	for _, k := range stringKeys {
		if v, _ := ctx.Value(k.key).(string); v != "" {
			out = append(out, slog.String(k.attr, v))
		}
	}
	if n := Batch(ctx); n > 0 {
		out = append(out, slog.Int("batch", n))
	}
	return out
}

// CorrelationHandler adds the correlation ids found on the record's context
// to every record before passing it to the wrapped handler.
type CorrelationHandler struct {
	inner slog.Handler
}

func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if a := attrs(ctx); len(a) > 0 {
		r.AddAttrs(a...)
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(as []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(as)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
