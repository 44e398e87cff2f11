package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/api"
	"github.com/spigell/job-pilot/internal/assistant"
	"github.com/spigell/job-pilot/internal/assistant/rodriver"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/discovery"
	"github.com/spigell/job-pilot/internal/export"
	"github.com/spigell/job-pilot/internal/logger"
	"github.com/spigell/job-pilot/internal/matching"
	"github.com/spigell/job-pilot/internal/materials"
	"github.com/spigell/job-pilot/internal/safety"
	"github.com/spigell/job-pilot/internal/store"
	"github.com/spigell/job-pilot/internal/tasks"
)

const (
	app              = "job-pilot"
	envPrefix        = "JOBPILOT"
	defaultCandidate = "default"
)

type Config struct {
	Candidate   string            `mapstructure:"candidate"`
	Profile     string            `mapstructure:"profile"`
	Profiles    map[string]string `mapstructure:"profiles"`
	ProfilesDir string            `mapstructure:"profiles-dir"`
	LogFile     string            `mapstructure:"log-file"`

	Database  *store.Config     `mapstructure:"database"`
	AI        *AIConfig         `mapstructure:"ai"`
	Matching  matching.Criteria `mapstructure:"matching"`
	Materials materials.Config  `mapstructure:"materials"`
	Export    export.Config     `mapstructure:"export"`
	Safety    safety.Config     `mapstructure:"safety"`
	Assistant AssistantConfig   `mapstructure:"assistant"`
	Discovery DiscoveryConfig   `mapstructure:"discovery"`
	Redis     *RedisConfig      `mapstructure:"redis"`
	Tasks     tasks.Config      `mapstructure:"tasks"`
	API       api.Config        `mapstructure:"api"`
}

type AIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Provider        string        `mapstructure:"provider"`
	MinimumFitScore float64       `mapstructure:"minimum-fit-score"`
	FitFilter       bool          `mapstructure:"fit-filter"`
	Instructions    string        `mapstructure:"instructions"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Gemini          *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

type AssistantConfig struct {
	assistant.Config `mapstructure:",squash"`
	Browser          rodriver.Config `mapstructure:"browser"`
}

type DiscoveryConfig struct {
	discovery.Config `mapstructure:",squash"`
	AppID            string        `mapstructure:"app-id"`
	AppKey           string        `mapstructure:"app-key"`
	AppKeyFile       string        `mapstructure:"app-key-file"`
	Country          string        `mapstructure:"country"`
	Timeout          time.Duration `mapstructure:"timeout"`
	ExcludeEmployers []string      `mapstructure:"exclude-employers"`
	ExcludeFile      string        `mapstructure:"exclude-file"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	PasswordFile string `mapstructure:"password-file"`
	DB           int    `mapstructure:"db"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:           app,
		Short:         "job-pilot discovers jobs, scores them against a profile, prepares materials and assists with applications",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute executes the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	// A missing .env is not an error.
	_ = godotenv.Load()

	bindings := map[string]string{
		"ai.gemini.api-key-file":         "GEMINI_API_KEY_FILE",
		"discovery.app-key-file":         "ADZUNA_APP_KEY_FILE",
		"api.jwt-secret-file":            "JOBPILOT_JWT_SECRET_FILE",
		"redis.password-file":            "JOBPILOT_REDIS_PASSWORD_FILE",
		"export.minio.access-key-id":     "MINIO_ACCESS_KEY_ID",
		"export.minio.secret-access-key": "MINIO_SECRET_ACCESS_KEY",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is job-pilot.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().StringP("candidate", "c", "", "candidate id the command acts for")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("candidate", rootCmd.PersistentFlags().Lookup("candidate"))
}

func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// Every command runs on defaults when there is no config file, but a
	// broken one is fatal.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func setDefaults() {
	viper.SetDefault("candidate", defaultCandidate)
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", "job-pilot.db")
	viper.SetDefault("database.log-level", "warn")
	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("ai.timeout", "20s")
	viper.SetDefault("ai.gemini.max-retries", 3)
	viper.SetDefault("export.backend", export.BackendLocal)
	viper.SetDefault("export.dir", "exports")
	viper.SetDefault("safety.backend", safety.BackendDB)
	viper.SetDefault("safety.daily-limit", safety.DefaultDailyLimit)
	viper.SetDefault("safety.actions-per-minute", safety.DefaultActionsPerMinute)
	viper.SetDefault("assistant.browser.user-data-dir", "browser-profile")
	viper.SetDefault("discovery.timeout", "10m")
	viper.SetDefault("tasks.queue", "job-pilot")
	viper.SetDefault("api.listen", "127.0.0.1:8080")
	viper.SetDefault("api.token-ttl", "24h")
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return config, err
	}
	if config == nil {
		return nil, errors.New("config is required")
	}
	if strings.TrimSpace(config.Candidate) == "" {
		config.Candidate = defaultCandidate
	}
	return config, nil
}

func newLogger(cfg *Config) (*zap.Logger, error) {
	opts := logger.Options{
		JSON:  viper.GetBool("json"),
		Debug: viper.GetBool("debug"),
	}
	if cfg != nil {
		opts.File = cfg.LogFile
	}
	return logger.New(opts)
}

// candidateContext binds the configured candidate, which is the CLI session.
func candidateContext(ctx context.Context, cfg *Config) context.Context {
	return candidate.WithID(ctx, cfg.Candidate)
}
