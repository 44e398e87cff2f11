package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotConfigured is returned when neither a file nor a value is set.
var ErrNotConfigured = errors.New("not configured")

// Source is one credential: an inline value, a file holding it, or both.
type Source struct {
	Name  string
	Value string
	// File wins over Value. Mounted secret files are the preferred way to
	// pass API keys.
	File string
	// Hint tells the operator where to set the secret.
	Hint string
}

// Configured reports whether the source names a value or a file at all.
func (s Source) Configured() bool {
	return strings.TrimSpace(s.Value) != "" || strings.TrimSpace(s.File) != ""
}

// Load resolves the secret and trims surrounding whitespace, including the
// trailing newline most secret files end with.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	value := src.Value
	file := strings.TrimSpace(src.File)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", src.hinted(fmt.Errorf("reading %s from %q: %w", name, file, err))
		}
		value = string(data)
	}

	secret := strings.TrimSpace(value)
	if secret != "" {
		return secret, nil
	}
	if file != "" {
		return "", src.hinted(fmt.Errorf("%s file %q is empty", name, file))
	}
	return "", src.hinted(fmt.Errorf("%s: %w", name, ErrNotConfigured))
}

func (s Source) hinted(err error) error {
	if s.Hint == "" {
		return err
	}
	return fmt.Errorf("%w (set %s)", err, s.Hint)
}
