package assistant

import (
	"context"
	"time"

	"github.com/spigell/job-pilot/internal/listing"
)

// FieldKind is the input type of a form field.
type FieldKind string

const (
	FieldText     FieldKind = "text"
	FieldSelect   FieldKind = "select"
	FieldRadio    FieldKind = "radio"
	FieldCheckbox FieldKind = "checkbox"
	FieldFile     FieldKind = "file"
)

// Field is one input of the current application form step. ID is opaque to
// the assistant and only meaningful to the driver that produced it.
type Field struct {
	ID       string    `json:"id"`
	Label    string    `json:"label"`
	Kind     FieldKind `json:"kind"`
	Options  []string  `json:"options,omitempty"`
	Accept   string    `json:"accept,omitempty"`
	Required bool      `json:"required"`
	Value    string    `json:"value,omitempty"`
	Checked  bool      `json:"checked,omitempty"`
}

// Empty reports whether the field still needs an answer.
func (f Field) Empty() bool {
	if f.Kind == FieldCheckbox {
		return !f.Checked
	}
	return f.Value == ""
}

// Step is what the form offers after the visible fields are filled.
type Step string

const (
	StepNext    Step = "next"
	StepSubmit  Step = "submit"
	StepUnknown Step = "unknown"
)

// Launcher starts a browser session the operator can interact with.
type Launcher interface {
	Launch(ctx context.Context) (Driver, error)
}

// Driver performs discrete browser actions. Every call is a single action
// the assistant may retry or stop between. Errors marked transient (see
// apperr.IsTransient) are retried.
type Driver interface {
	// Capture reads the postings on the currently visible listing page.
	Capture(ctx context.Context) ([]listing.Posting, error)
	Open(ctx context.Context, url string) error
	// StartApplication opens the platform's in-page application form.
	StartApplication(ctx context.Context) error
	Fields(ctx context.Context) ([]Field, error)
	Fill(ctx context.Context, f Field, value string) error
	Step(ctx context.Context) (Step, error)
	Next(ctx context.Context) error
	// FormErrors reports whether the form shows validation errors.
	FormErrors(ctx context.Context) (bool, error)
	Submit(ctx context.Context) error
	// Confirmed waits up to timeout for the platform's confirmation.
	Confirmed(ctx context.Context, timeout time.Duration) (bool, error)
	// Screenshot stores an image of the page and returns a reference to it.
	Screenshot(ctx context.Context, name string) (string, error)
	Close() error
}
