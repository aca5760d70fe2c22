package agents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voicedesk/pkg/utils"
)

var (
	ErrNotFound  = errors.New("agents: not found")
	ErrDuplicate = errors.New("agents: duplicate id")
)

// Repository is the local agent table plus its repair outbox.
type Repository interface {
	Insert(ctx context.Context, a Agent) error
	Delete(ctx context.Context, orgID, id string) error
	Get(ctx context.Context, id string) (Agent, error)
	FindByIdempotencyKey(ctx context.Context, orgID, key string) (Agent, bool, error)
	ListByOrgs(ctx context.Context, orgIDs []string) ([]Agent, error)

	EnqueueRepair(ctx context.Context, r Repair) error
	PendingRepairs(ctx context.Context, limit int) ([]Repair, error)
	MarkRepaired(ctx context.Context, id string) error
	MarkRepairFailed(ctx context.Context, id, lastErr string) error
}

// NOTE: PostgresRepo assumes the following tables exist:
// - agents (id PK, org_id, name, voice_id, prompt, first_message, status, created_at, idempotency_key NULL)
//   with UNIQUE (org_id, idempotency_key)
// - agent_repairs (id PK, kind, agent_id, org_id, attempts, last_error, done_at NULL, created_at, updated_at)
//
// org_id is text without a foreign key so placeholder organizations
// ("user-<id>") can own agents in degraded mode.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Insert(ctx context.Context, a Agent) error {
	const q = `
INSERT INTO agents (id, org_id, name, voice_id, prompt, first_message, status, created_at, idempotency_key)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9, ''))
`
	_, err := r.db.ExecContext(ctx, q,
		a.ID,
		a.OrgID,
		a.Name,
		a.VoiceID,
		a.Prompt,
		a.FirstMessage,
		a.Status,
		a.CreatedAt,
		a.IdempotencyKey,
	)
	if utils.IsPgCode(err, utils.PgCodeUniqueViolation) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func (r *PostgresRepo) Delete(ctx context.Context, orgID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE org_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectAgent = `
SELECT id, org_id, name, voice_id, COALESCE(prompt, ''), COALESCE(first_message, ''), status, created_at, COALESCE(idempotency_key, '')
FROM agents
`

func (r *PostgresRepo) Get(ctx context.Context, id string) (Agent, error) {
	return r.getOne(ctx, selectAgent+`WHERE id = $1`, id)
}

func (r *PostgresRepo) FindByIdempotencyKey(ctx context.Context, orgID, key string) (Agent, bool, error) {
	a, err := r.getOne(ctx, selectAgent+`WHERE org_id = $1 AND idempotency_key = $2`, orgID, key)
	if errors.Is(err, ErrNotFound) {
		return Agent{}, false, nil
	}
	if err != nil {
		return Agent{}, false, err
	}
	return a, true, nil
}

func (r *PostgresRepo) getOne(ctx context.Context, q string, args ...any) (Agent, error) {
	var a Agent
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(
		&a.ID,
		&a.OrgID,
		&a.Name,
		&a.VoiceID,
		&a.Prompt,
		&a.FirstMessage,
		&a.Status,
		&a.CreatedAt,
		&a.IdempotencyKey,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, ErrNotFound
		}
		return Agent{}, err
	}
	return a, nil
}

func (r *PostgresRepo) ListByOrgs(ctx context.Context, orgIDs []string) ([]Agent, error) {
	if len(orgIDs) == 0 {
		return []Agent{}, nil
	}
	rows, err := r.db.QueryContext(ctx, selectAgent+`WHERE org_id = ANY($1)
ORDER BY created_at DESC
`, orgIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Agent, 0)
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.OrgID, &a.Name, &a.VoiceID, &a.Prompt, &a.FirstMessage, &a.Status, &a.CreatedAt, &a.IdempotencyKey); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) EnqueueRepair(ctx context.Context, rep Repair) error {
	const q = `
INSERT INTO agent_repairs (id, kind, agent_id, org_id, attempts, last_error, created_at, updated_at)
VALUES ($1,$2,$3,$4,0,$5,$6,$6)
`
	_, err := r.db.ExecContext(ctx, q, rep.ID, rep.Kind, rep.AgentID, rep.OrgID, rep.LastError, rep.CreatedAt)
	return err
}

// PendingRepairs returns unfinished repairs, least recently attempted first.
func (r *PostgresRepo) PendingRepairs(ctx context.Context, limit int) ([]Repair, error) {
	const q = `
SELECT id, kind, agent_id, org_id, attempts, COALESCE(last_error, ''), created_at, updated_at
FROM agent_repairs
WHERE done_at IS NULL
ORDER BY updated_at ASC
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Repair
	for rows.Next() {
		var rep Repair
		if err := rows.Scan(&rep.ID, &rep.Kind, &rep.AgentID, &rep.OrgID, &rep.Attempts, &rep.LastError, &rep.CreatedAt, &rep.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) MarkRepaired(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE agent_repairs SET done_at = $2, attempts = attempts + 1, updated_at = $2 WHERE id = $1
`, id, time.Now().UTC())
	return err
}

func (r *PostgresRepo) MarkRepairFailed(ctx context.Context, id, lastErr string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE agent_repairs SET attempts = attempts + 1, last_error = $2, updated_at = $3 WHERE id = $1
`, id, lastErr, time.Now().UTC())
	return err
}
