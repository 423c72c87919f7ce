package api

import "context"

// publishJSON emits a fleet event. Publishing is best-effort: a mutation that
// already committed is never failed because the bus is down.
func (a *API) publishJSON(ctx context.Context, subject string, payload map[string]any) {
	if a.bus == nil || subject == "" {
		return
	}
	_ = a.bus.Publish(ctx, subject, payload)
}
