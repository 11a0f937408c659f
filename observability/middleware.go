package observability

import (
	"context"
	"time"

	"github.com/hazyhaar/domsig/kit"
)

// Audit records every call of the wrapped endpoint under operation.
func Audit(a *AuditLogger, operation string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			e := a.NewEntry(operation, req, err, time.Since(start))
			e.Transport = kit.GetTransport(ctx)
			e.RequestID = kit.GetRequestID(ctx)
			a.LogAsync(e)
			return resp, err
		}
	}
}
