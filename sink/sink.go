// Package sink defines output backends for signature reports and deltas.
package sink

import (
	"context"

	"github.com/hazyhaar/domsig/report"
)

// Sink delivers reports and deltas to a backend (stdout, webhook,
// in-process callback).
type Sink interface {
	SendReport(ctx context.Context, r report.Report) error
	SendDelta(ctx context.Context, d report.Delta) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
