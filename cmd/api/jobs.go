package main

import (
	"context"
	"log/slog"

	"voicedesk/internal/agents"
	"voicedesk/internal/config"
	"voicedesk/internal/session"

	"github.com/robfig/cron/v3"
)

// sweepSchedule evicts idle session resolvers.
const sweepSchedule = "@every 1m"

// scheduleJobs registers background work. The caller starts and stops the cron.
func scheduleJobs(ctx context.Context, log *slog.Logger, cfg config.Config, rec *agents.Reconciler, reg *session.Registry) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if _, err := rec.Schedule(ctx, c, cfg.Agents.ReconcileSchedule); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc(sweepSchedule, func() {
		if n := reg.Sweep(cfg.Session.IdleTTL); n > 0 {
			log.Debug("session sweep", "evicted", n, "live", reg.Len())
		}
	}); err != nil {
		return nil, err
	}
	return c, nil
}
