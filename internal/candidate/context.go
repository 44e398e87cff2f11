package candidate

import (
	"context"
	"strings"

	"github.com/spigell/job-pilot/internal/apperr"
)

type ctxKey struct{}

// WithID binds the session-derived candidate id to ctx. Every store call reads
// it back through FromContext instead of taking an id argument.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, strings.TrimSpace(id))
}

func FromContext(ctx context.Context) (string, error) {
	id, _ := ctx.Value(ctxKey{}).(string)
	if id == "" {
		return "", apperr.Validation("candidate is not authenticated")
	}
	return id, nil
}
