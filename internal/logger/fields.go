package logger

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/candidate"
)

// Structured log field keys shared by every component.
const (
	FieldComponent = "component"
	FieldCandidate = "candidate_id"
	FieldJob       = "job_id"
	FieldProvider  = "ai_provider"
	FieldModel     = "ai_model"
)

// Fields turns key/value pairs into string fields. Pairs with a blank key
// or value are dropped, and so is a trailing key without a value.
func Fields(kv ...string) []zap.Field {
	result := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, value := strings.TrimSpace(kv[i]), strings.TrimSpace(kv[i+1])
		if key == "" || value == "" {
			continue
		}
		result = append(result, zap.String(key, value))
	}
	return result
}

func with(l *zap.Logger, fields []zap.Field) *zap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// Component names the part of the process that logs.
func Component(l *zap.Logger, name string) *zap.Logger {
	return with(l, Fields(FieldComponent, name))
}

// Generation tags a logger with the generation provider and model.
func Generation(l *zap.Logger, provider, model string) *zap.Logger {
	return with(l, Fields(FieldProvider, provider, FieldModel, model))
}

// ForJob tags a logger with the job and, when the context carries one, the
// candidate it belongs to.
func ForJob(ctx context.Context, l *zap.Logger, jobID string) *zap.Logger {
	cid, _ := candidate.FromContext(ctx)
	return with(l, Fields(FieldCandidate, cid, FieldJob, jobID))
}
