package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/tatianab/jianghu/internal/gameerr"
)

// Save backends.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendSupabase = "supabase"
)

// Config holds the application configuration.
type Config struct {
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`

	SaveDir       string `env:"SAVE_DIR" envDefault:".saves"`
	SaveBackend   string `env:"SAVE_BACKEND" envDefault:"file"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:".saves/jianghu.db"`
	SupabaseURL   string `env:"SUPABASE_URL"`
	SupabaseKey   string `env:"SUPABASE_KEY"`
	SupabaseTable string `env:"SUPABASE_TABLE" envDefault:"saves"`

	TurnTimeout       time.Duration `env:"TURN_TIMEOUT" envDefault:"60s"`
	BackgroundTimeout time.Duration `env:"BACKGROUND_TIMEOUT" envDefault:"90s"`
	SaveTimeout       time.Duration `env:"SAVE_TIMEOUT" envDefault:"10s"`

	SummaryEvery   int  `env:"SUMMARY_EVERY" envDefault:"20"`
	QuestEvery     int  `env:"QUEST_EVERY" envDefault:"15"`
	HistoryWindow  int  `env:"HISTORY_WINDOW" envDefault:"8"`
	RepairOnDefect bool `env:"REPAIR_ON_DEFECT" envDefault:"true"`

	PDFFontPath string `env:"PDF_FONT_PATH"`
}

// LoadConfig loads an optional .env file and then the configuration from
// environment variables. A missing API key is a configuration error.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads the configuration from the environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every setting needed to submit a turn is present.
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return gameerr.New(gameerr.CodeMissingConfig, "GEMINI_API_KEY environment variable is not set")
	}
	switch c.SaveBackend {
	case BackendFile, BackendSQLite:
	case BackendSupabase:
		if c.SupabaseURL == "" || c.SupabaseKey == "" {
			return gameerr.New(gameerr.CodeMissingConfig, "SUPABASE_URL and SUPABASE_KEY are required for the supabase save backend")
		}
	default:
		return gameerr.New(gameerr.CodeMissingConfig, fmt.Sprintf("unknown SAVE_BACKEND %q", c.SaveBackend))
	}
	if c.SummaryEvery <= 0 || c.QuestEvery <= 0 || c.HistoryWindow <= 0 {
		return gameerr.New(gameerr.CodeMissingConfig, "SUMMARY_EVERY, QUEST_EVERY and HISTORY_WINDOW must be positive")
	}
	return nil
}
