package main

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"evidence-rag/internal/config"
)

const defaultConfigFilePath = "./configs/config.yaml"

var (
	configFilePath string
	envFilePath    string
	cfg            *config.Config
	version        = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "evidence-rag",
	Short: "Ask questions about PDFs and see the evidence highlighted",
	Long: `evidence-rag answers questions from uploaded PDF documents and asks a
vision model to point at the region of the page that supports each answer.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFilePath, "config", defaultConfigFilePath, "path to the yaml config file")
	rootCmd.PersistentFlags().StringVar(&envFilePath, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
}

func loadConfig(_ *cobra.Command, _ []string) error {
	if err := godotenv.Load(envFilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	var err error
	cfg, err = config.LoadConfig(configFilePath)
	if err != nil {
		setupLogging(config.Default().Log)
		log.Error().Err(err).Msg("Error loading config")
		return err
	}
	setupLogging(cfg.Log)
	log.Debug().Interface("config", cfg).Msg("Loaded config")
	return nil
}

func setupLogging(logConfig config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(logConfig.Level)
	if err != nil || logConfig.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if logConfig.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
}
