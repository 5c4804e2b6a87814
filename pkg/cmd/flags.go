package cmd

import (
	"time"

	"github.com/dukex/canvasflow/pkg/engine"
	"github.com/dukex/canvasflow/pkg/services"
	"github.com/urfave/cli/v3"
)

// Flags shared by the canvasflow binaries.
const (
	FlagDatabaseURL   = "database-url"
	FlagEventBus      = "event-bus"
	FlagKafkaBrokers  = "kafka-brokers"
	FlagLogLevel      = "log-level"
	FlagGeminiAPIKey  = "gemini-api-key"
	FlagGeminiBaseURL = "gemini-base-url"
	FlagMaxParallel   = "max-parallel"
	FlagNodeTimeout   = "node-timeout"
	FlagStrictHandles = "strict-handles"
	FlagEnvFile       = "env-file"
)

// LogFlags returns the logging and env file flags.
func LogFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    FlagLogLevel,
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:  FlagEnvFile,
			Usage: "Load environment variables from this file before starting",
			Value: ".env",
		},
	}
}

// StoreFlags returns the persistence and event bus flags.
// A required database URL has no default.
func StoreFlags(databaseRequired bool) []cli.Flag {
	database := &cli.StringFlag{
		Name:     FlagDatabaseURL,
		Usage:    "Database connection URL for persistence (file://, memory://, postgres://, redis://)",
		Required: databaseRequired,
		Sources:  cli.EnvVars("DATABASE_URL"),
	}
	if !databaseRequired {
		database.Value = "memory://"
	}

	return []cli.Flag{
		database,
		&cli.StringFlag{
			Name:    FlagEventBus,
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   EventBusGoChannel,
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    FlagKafkaBrokers,
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
	}
}

// EngineFlags returns the flags that configure node execution.
func EngineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    FlagGeminiAPIKey,
			Usage:   "API key used by llmNode",
			Sources: cli.EnvVars("GEMINI_API_KEY"),
		},
		&cli.StringFlag{
			Name:    FlagGeminiBaseURL,
			Usage:   "Override the Gemini API base URL",
			Sources: cli.EnvVars("GEMINI_BASE_URL"),
		},
		&cli.IntFlag{
			Name:    FlagMaxParallel,
			Usage:   "Maximum nodes of one layer executing at once (0 = unbounded)",
			Sources: cli.EnvVars("MAX_PARALLEL"),
		},
		&cli.DurationFlag{
			Name:    FlagNodeTimeout,
			Usage:   "Timeout of a single node execution (0 = none)",
			Value:   2 * time.Minute,
			Sources: cli.EnvVars("NODE_TIMEOUT"),
		},
		&cli.BoolFlag{
			Name:    FlagStrictHandles,
			Usage:   "Reject graphs with two edges into the same input handle",
			Sources: cli.EnvVars("STRICT_HANDLES"),
		},
	}
}

// RegistryConfigFrom reads the registry settings from command.
func RegistryConfigFrom(command *cli.Command) RegistryConfig {
	return RegistryConfig{
		GeminiAPIKey:  command.String(FlagGeminiAPIKey),
		GeminiBaseURL: command.String(FlagGeminiBaseURL),
	}
}

// SchedulerOptions reads the engine settings from command.
func SchedulerOptions(command *cli.Command) []engine.Option {
	return []engine.Option{
		engine.WithMaxParallel(command.Int(FlagMaxParallel)),
		engine.WithNodeTimeout(command.Duration(FlagNodeTimeout)),
	}
}

// RunsOptions reads the run service settings from command.
func RunsOptions(command *cli.Command) []services.RunsOption {
	if command.Bool(FlagStrictHandles) {
		return []services.RunsOption{services.WithStrictHandles()}
	}

	return nil
}
