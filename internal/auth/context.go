package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxTenantID
	ctxRole
)

var (
	ErrNoUser   = errors.New("user_id not in context")
	ErrNoTenant = errors.New("tenant_id not in context")
	ErrNoRole   = errors.New("role not in context")
)

func WithIdentity(ctx context.Context, userID, tenantID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxTenantID, tenantID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	return value(ctx, ctxUserID, ErrNoUser)
}

func TenantID(ctx context.Context) (string, error) {
	return value(ctx, ctxTenantID, ErrNoTenant)
}

func Role(ctx context.Context) (string, error) {
	return value(ctx, ctxRole, ErrNoRole)
}

func value(ctx context.Context, k ctxKey, missing error) (string, error) {
	if s, ok := ctx.Value(k).(string); ok && s != "" {
		return s, nil
	}
	return "", missing
}
