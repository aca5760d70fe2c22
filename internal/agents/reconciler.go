package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"voicedesk/internal/telephony"
	"voicedesk/pkg/utils"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

const (
	reconcileLockKey   = "vd:lock:agent-reconciler"
	reconcileLockTTL   = 2 * time.Minute
	reconcileBatchSize = 50
)

// Reconciler drains the repair outbox. Only one replica runs a pass at a
// time, guarded by a Redis lease.
type Reconciler struct {
	repo     Repository
	provider telephony.Provider
	lock     redis.Scripter
	log      *slog.Logger
}

func NewReconciler(repo Repository, provider telephony.Provider, lock redis.Scripter, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{repo: repo, provider: provider, lock: lock, log: log}
}

// Schedule registers a pass on c using a 5-field cron expression.
func (r *Reconciler) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.ErrorContext(ctx, "agent reconcile failed", "err", err)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("schedule reconciler %q: %w", spec, err)
	}
	return id, nil
}

// RunOnce processes one batch and returns how many repairs completed.
// A nil lock runs unguarded.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	if r.lock != nil {
		ok, err := utils.AcquireConcurrencyCap(ctx, r.lock, reconcileLockKey, 1, reconcileLockTTL)
		if err != nil {
			return 0, fmt.Errorf("acquire reconcile lease: %w", err)
		}
		if !ok {
			r.log.DebugContext(ctx, "reconcile lease held elsewhere")
			return 0, nil
		}
		defer func() {
			if err := utils.ReleaseConcurrencyCap(context.WithoutCancel(ctx), r.lock, reconcileLockKey); err != nil {
				r.log.WarnContext(ctx, "release reconcile lease", "err", err)
			}
		}()
	}

	pending, err := r.repo.PendingRepairs(ctx, reconcileBatchSize)
	if err != nil {
		return 0, fmt.Errorf("load repairs: %w", err)
	}

	done := 0
	for _, rep := range pending {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if err := r.apply(ctx, rep); err != nil {
			r.log.WarnContext(ctx, "repair failed", "repair_id", rep.ID, "kind", rep.Kind, "agent_id", rep.AgentID, "attempts", rep.Attempts+1, "err", err)
			if mErr := r.repo.MarkRepairFailed(ctx, rep.ID, err.Error()); mErr != nil {
				return done, mErr
			}
			continue
		}
		if err := r.repo.MarkRepaired(ctx, rep.ID); err != nil {
			return done, err
		}
		done++
		r.log.InfoContext(ctx, "repair applied", "repair_id", rep.ID, "kind", rep.Kind, "agent_id", rep.AgentID)
	}
	return done, nil
}

func (r *Reconciler) apply(ctx context.Context, rep Repair) error {
	switch rep.Kind {
	case RepairDeleteRemote:
		return r.provider.DeleteAssistant(ctx, rep.AgentID)
	case RepairDeleteLocal:
		err := r.repo.Delete(ctx, rep.OrgID, rep.AgentID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("unknown repair kind %q", rep.Kind)
	}
}
