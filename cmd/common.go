package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/logger"
)

// withApp builds the process services and runs fn for the configured
// candidate. Interrupts cancel ctx.
func withApp(cmd *cobra.Command, mode eventMode, fn func(ctx context.Context, a *App) error) error {
	config, err := getConfig()
	if err != nil {
		return fmt.Errorf("getting a config: %w", err)
	}

	log, err := newLogger(config)
	if err != nil {
		return fmt.Errorf("creating a logger: %w", err)
	}
	defer log.Sync()

	log.Debug("starting", zap.String("command", cmd.CommandPath()), zap.String("version", version), zap.String(logger.FieldCandidate, config.Candidate))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, config, log, mode)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(candidateContext(ctx, config), a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func scoreText(score *int) string {
	if score == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *score)
}
