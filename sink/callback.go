package sink

import (
	"context"

	"github.com/hazyhaar/domsig/report"
)

// ReportFunc is called for each report.
type ReportFunc func(ctx context.Context, r report.Report) error

// DeltaFunc is called for each delta.
type DeltaFunc func(ctx context.Context, d report.Delta) error

// Callback delivers reports via Go function calls, for embedding the
// tracker in another service without serialisation.
type Callback struct {
	onReport ReportFunc
	onDelta  DeltaFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onReport ReportFunc, onDelta DeltaFunc) *Callback {
	return &Callback{onReport: onReport, onDelta: onDelta}
}

func (c *Callback) SendReport(ctx context.Context, r report.Report) error {
	if c.onReport != nil {
		return c.onReport(ctx, r)
	}
	return nil
}

func (c *Callback) SendDelta(ctx context.Context, d report.Delta) error {
	if c.onDelta != nil {
		return c.onDelta(ctx, d)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
