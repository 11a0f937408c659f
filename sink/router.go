package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/domsig/report"
)

// Router fans out to all configured sinks. One sink error does not block
// the others: errors are logged and the first encountered is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) SendReport(ctx context.Context, rep report.Report) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendReport(ctx, rep); err != nil {
			r.logger.Warn("sink: send report failed", "report_id", rep.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) SendDelta(ctx context.Context, d report.Delta) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendDelta(ctx, d); err != nil {
			r.logger.Warn("sink: send delta failed", "to_id", d.ToID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
