package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/api"
	"github.com/spigell/job-pilot/internal/discovery"
	"github.com/spigell/job-pilot/internal/events"
	"github.com/spigell/job-pilot/internal/logger"
	"github.com/spigell/job-pilot/internal/secrets"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP command surface and the event stream",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, eventsForwarded, func(ctx context.Context, a *App) error {
			tokens, err := newTokens(a.Config)
			if err != nil {
				return err
			}

			if a.Redis != nil {
				go func() {
					if err := events.Forward(ctx, a.Redis, a.Bus, a.Logger); err != nil {
						a.Logger.Error("event forwarding stopped", zap.Error(err))
					}
				}()
			}

			runner := discovery.NewRunner(a.Discovery, a.Config.Discovery.Timeout, a.Logger)
			defer runner.Wait()

			deps := api.Deps{
				Jobs:         a.Jobs,
				Ingester:     a.Discovery,
				Scorer:       a.Scorer,
				Materials:    a.Materials,
				Discovery:    runner,
				Assistant:    a.Assistant,
				Applications: a.Applications,
				Events:       a.Bus,
				Tokens:       tokens,
				Logger:       logger.Component(a.Logger, "api"),
			}
			if a.Queue != nil {
				deps.Queue = a.Queue
			}

			a.Logger.Info("starting the job-pilot api", zap.String("version", version))
			return api.New(a.Config.API, deps).Run(ctx)
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API session token for the candidate",
	RunE: func(cmd *cobra.Command, _ []string) error {
		config, err := getConfig()
		if err != nil {
			return fmt.Errorf("getting a config: %w", err)
		}
		tokens, err := newTokens(config)
		if err != nil {
			return err
		}
		token, err := tokens.Issue(config.Candidate)
		if err != nil {
			return err
		}
		cmd.Println(token)
		return nil
	},
}

func newTokens(config *Config) (*api.Tokens, error) {
	secret, err := secrets.Load(secrets.Source{
		Name:  "jwt secret",
		Value: config.API.JWTSecret,
		File:  config.API.JWTSecretFile,
		Hint:  "api.jwt-secret-file or JOBPILOT_JWT_SECRET_FILE",
	})
	if err != nil {
		return nil, err
	}
	return api.NewTokens(secret, config.API.TokenTTL)
}

func init() {
	rootCmd.AddCommand(serveCmd, tokenCmd)
}
