package testutil

import (
	"context"
)

type bodyKey struct{}

func withBody(ctx context.Context, body map[string]any) context.Context {
	return context.WithValue(ctx, bodyKey{}, body)
}

func bodyFrom(ctx context.Context) map[string]any {
	body, _ := ctx.Value(bodyKey{}).(map[string]any)
	if body == nil {
		return map[string]any{}
	}
	return body
}
