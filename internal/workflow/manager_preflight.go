package workflow

import (
	"context"

	"scribe/internal/logging"
	"scribe/internal/preflight"
)

// logPreflight reports readiness of external tools and services. Failures
// are logged rather than fatal: a job that needs a missing tool fails in its
// own stage with a classified error.
func (m *Manager) logPreflight(ctx context.Context) {
	if m.cfg == nil || m.skipPreflight {
		return
	}
	for _, r := range preflight.RunAll(ctx, m.cfg) {
		if r.Passed {
			m.logger.Debug("preflight check passed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldEventType, "preflight_passed"),
			)
			continue
		}
		logging.WarnWithContext(m.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "fix the reported issue and restart the daemon"),
			logging.String(logging.FieldImpact, "jobs that need this dependency will fail"),
		)
	}
}
