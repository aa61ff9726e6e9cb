package main

import (
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type config struct {
	Addr               string `yaml:"addr"`
	DBPath             string `yaml:"db_path"`
	PopulationDeptPath string `yaml:"population_dept_path"`
	PopulationAgePath  string `yaml:"population_age_path"`
	GeoJSONURL         string `yaml:"geojson_url"`
	GeoJSONPath        string `yaml:"geojson_path"`
	LogLevel           string `yaml:"log_level"`
	MaxUploadMB        int64  `yaml:"max_upload_mb"`
	DashboardToken     string `yaml:"dashboard_token"`
}

func defaultConfig() config {
	return config{
		Addr:               ":8421",
		DBPath:             "data/mortalite.db",
		PopulationDeptPath: "data/population_dept.csv",
		PopulationAgePath:  "data/population_age.csv",
		GeoJSONPath:        "data/departements.geojson",
		LogLevel:           "info",
		MaxUploadMB:        512,
	}
}

// loadConfig reads path over the defaults. A missing file is not an error.
func loadConfig(path string, logger *slog.Logger) config {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("no config file, using defaults", "path", path)
			return cfg
		}
		logger.Error("read config", "error", err)
		os.Exit(1)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		logger.Error("parse config", "error", err)
		os.Exit(1)
	}
	return cfg
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setup loads the config and returns it with a logger at its level. Logs go
// to stderr: stdout carries the MCP stdio transport.
func setup(cfgPath string) (config, *slog.Logger) {
	var level slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	cfg := loadConfig(cfgPath, logger)
	level.Set(parseLevel(cfg.LogLevel))
	slog.SetDefault(logger)
	return cfg, logger
}
