// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir       string // Base directory for all databases (always absolute)
	LogLevel      string
	Port          int
	DevMode       bool
	CORSOrigins   []string
	Simulation    SimulationConfig
	RefitSchedule string // Cron expression for the model refit job
	Backup        *BackupConfig
}

// SimulationConfig holds the default Monte Carlo parameters. Individual API
// requests may override draws and seed.
type SimulationConfig struct {
	Draws        int     // Default number of draws per simulation
	Workers      int     // Goroutines in the draw pool (0 = NumCPU)
	CostPerPoint float64 // Estimated cost per percentage-point improvement
}

// BackupConfig holds S3 backup settings. Nil means backups are disabled.
type BackupConfig struct {
	Bucket    string
	Region    string
	Endpoint  string // Optional, for S3-compatible stores (MinIO, R2)
	AccessKey string
	SecretKey string
	Schedule  string // Cron expression
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("STARGAZER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data dir %q: %w", dataDir, err)
	}

	port, err := getEnvInt("STARGAZER_PORT", 8090)
	if err != nil {
		return nil, err
	}

	draws, err := getEnvInt("STARGAZER_SIM_DRAWS", 1000)
	if err != nil {
		return nil, err
	}
	workers, err := getEnvInt("STARGAZER_SIM_WORKERS", 0)
	if err != nil {
		return nil, err
	}
	costPerPoint, err := getEnvFloat("STARGAZER_COST_PER_POINT", 10000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:     absDataDir,
		LogLevel:    getEnv("STARGAZER_LOG_LEVEL", "info"),
		Port:        port,
		DevMode:     os.Getenv("STARGAZER_DEV_MODE") == "true",
		CORSOrigins: []string{getEnv("STARGAZER_CORS_ORIGIN", "*")},
		Simulation: SimulationConfig{
			Draws:        draws,
			Workers:      workers,
			CostPerPoint: costPerPoint,
		},
		// 03:30 daily - after upstream data refreshes, before business hours
		RefitSchedule: getEnv("STARGAZER_REFIT_SCHEDULE", "0 30 3 * * *"),
	}

	if bucket := os.Getenv("STARGAZER_S3_BUCKET"); bucket != "" {
		cfg.Backup = &BackupConfig{
			Bucket:    bucket,
			Region:    os.Getenv("STARGAZER_S3_REGION"),
			Endpoint:  os.Getenv("STARGAZER_S3_ENDPOINT"),
			AccessKey: os.Getenv("STARGAZER_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("STARGAZER_S3_SECRET_KEY"),
			Schedule:  getEnv("STARGAZER_BACKUP_SCHEDULE", "0 0 4 * * *"),
		}
	}

	return cfg, nil
}

// PanelDBPath returns the path of the observation panel database.
func (c *Config) PanelDBPath() string {
	return filepath.Join(c.DataDir, "panel.db")
}

// ModelsDBPath returns the path of the fitted-model store database.
func (c *Config) ModelsDBPath() string {
	return filepath.Join(c.DataDir, "models.db")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return f, nil
}
