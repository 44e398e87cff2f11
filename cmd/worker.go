package cmd

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/logger"
	"github.com/spigell/job-pilot/internal/tasks"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued scoring, discovery and generation tasks",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, eventsLocal, func(ctx context.Context, a *App) error {
			if a.Redis == nil {
				return apperr.NotReady("the worker requires redis.addr")
			}

			opt := a.Redis.Options()
			redisOpt := asynq.RedisClientOpt{Addr: opt.Addr, Password: opt.Password, DB: opt.DB}
			srv := tasks.NewServer(redisOpt, a.Config.Tasks, logger.Component(a.Logger, "worker"))

			handlers := &tasks.Handlers{
				Scorer:     a.Scorer,
				Discoverer: a.Discovery,
				Materials:  a.Materials,
				Logger:     a.Logger,
			}

			a.Logger.Info("starting the job-pilot worker", zap.String("version", version))
			if err := srv.Start(handlers.Mux()); err != nil {
				return err
			}
			<-ctx.Done()
			srv.Shutdown()
			a.Logger.Info("worker stopped")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
