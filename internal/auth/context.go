package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxOrgID
	ctxRole
	ctxAccessToken
)

func WithIdentity(ctx context.Context, userID, orgID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxOrgID, orgID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

// WithAccessToken keeps the caller's access token for downstream queries that
// must run under the caller's row-level policies.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxAccessToken, token)
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

func OrgID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxOrgID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("org_id not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}

// AccessToken returns "" when the request was not made with a user token.
func AccessToken(ctx context.Context) string {
	s, _ := ctx.Value(ctxAccessToken).(string)
	return s
}
