package orgs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voicedesk/internal/auth"
	"voicedesk/pkg/utils"
)

var (
	ErrInvalidQuery = errors.New("orgs: invalid query")

	// ErrPolicyRecursion is returned when the membership relation cannot be read
	// because its row-level policy recurses into itself.
	ErrPolicyRecursion = errors.New("orgs: membership policy recursion")

	ErrTokenRejected = errors.New("orgs: access token rejected")
)

// Repository reads organization membership. Implementations must filter by user.
type Repository interface {
	ListMemberships(ctx context.Context, q MembershipQuery) ([]Membership, error)
}

// NOTE: PostgresRepo assumes the following tables exist:
// - orgs (id, name)
// - org_members (org_id, user_id, is_default, role)

type PostgresRepo struct {
	db *sql.DB

	// enforceRLS runs each query as the "authenticated" role with the user's
	// claims, so the same policies as the browser client apply.
	enforceRLS bool
	tokens     TokenVerifier
}

// TokenVerifier checks the caller's access token. *auth.Manager satisfies it.
type TokenVerifier interface {
	Verify(token string, now time.Time) (auth.Claims, error)
}

func NewPostgresRepo(db *sql.DB, enforceRLS bool, tokens TokenVerifier) *PostgresRepo {
	return &PostgresRepo{db: db, enforceRLS: enforceRLS, tokens: tokens}
}

const listMembershipsQuery = `
SELECT m.org_id, m.user_id, m.is_default, COALESCE(m.role, ''), COALESCE(o.name, '')
FROM org_members m
LEFT JOIN orgs o ON o.id = m.org_id
WHERE m.user_id = $1
`

const listDefaultMembershipQuery = listMembershipsQuery + `AND m.is_default = true
LIMIT 1
`

func (r *PostgresRepo) ListMemberships(ctx context.Context, q MembershipQuery) ([]Membership, error) {
	if q.UserID == "" {
		return nil, ErrInvalidQuery
	}
	query := listMembershipsQuery
	if q.DefaultOnly {
		query = listDefaultMembershipQuery
	}

	var out []Membership
	var err error
	if r.enforceRLS {
		err = utils.WithTx(ctx, r.db, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx *sql.Tx) error {
			claims, err := r.requestClaims(ctx, q.UserID)
			if err != nil {
				return err
			}
			if err := actAsUser(ctx, tx, claims); err != nil {
				return err
			}
			rows, err := queryMemberships(ctx, tx, query, q.UserID)
			out = rows
			return err
		})
	} else {
		out, err = queryMemberships(ctx, r.db, query, q.UserID)
	}
	if err != nil {
		if utils.IsPgCode(err, utils.PgCodePolicyRecursion) {
			return nil, fmt.Errorf("%w: %v", ErrPolicyRecursion, err)
		}
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return out, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryMemberships(ctx context.Context, q queryer, query, userID string) ([]Membership, error) {
	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.OrgID, &m.UserID, &m.IsDefault, &m.Role, &m.OrgName); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// requestClaims is the JSON the row-level policies read as request.jwt.claims.
// The caller's access token from ctx is verified and its claims used as-is;
// it must belong to userID. Without a token in ctx (server-side lookups) a
// minimal subject/role pair is used.
func (r *PostgresRepo) requestClaims(ctx context.Context, userID string) ([]byte, error) {
	tok := auth.AccessToken(ctx)
	if tok == "" || r.tokens == nil {
		return json.Marshal(map[string]string{"sub": userID, "role": "authenticated"})
	}
	c, err := r.tokens.Verify(tok, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRejected, err)
	}
	if c.UserID() != userID {
		return nil, fmt.Errorf("%w: token subject does not match user", ErrTokenRejected)
	}
	if c.Role == "" {
		c.Role = "authenticated"
	}
	return json.Marshal(c)
}

// actAsUser scopes the transaction to the given claims for row-level policies.
func actAsUser(ctx context.Context, tx *sql.Tx, claims []byte) error {
	if _, err := tx.ExecContext(ctx, `SELECT set_config('request.jwt.claims', $1, true)`, string(claims)); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `SET LOCAL ROLE authenticated`)
	return err
}
