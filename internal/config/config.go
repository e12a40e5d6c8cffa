package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            string `yaml:"port"`
		ShutdownTimeout string `yaml:"shutdownTimeout"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Store struct {
		MaxAttempts int `yaml:"maxAttempts"`
		BatchOps    int `yaml:"batchOps"`
	} `yaml:"store"`
	Scoring struct {
		CacheTTL string `yaml:"cacheTTL"`
	} `yaml:"scoring"`
	Ranking struct {
		PageSize int `yaml:"pageSize"`
	} `yaml:"ranking"`
	Leaderboard struct {
		Freshness     string `yaml:"freshness"`
		SnapshotLimit int    `yaml:"snapshotLimit"`
		Retention     string `yaml:"retention"`
	} `yaml:"leaderboard"`
	RateLimit struct {
		UserPerMinute int `yaml:"userPerMinute"`
		IPPerMinute   int `yaml:"ipPerMinute"`
	} `yaml:"rateLimit"`
}

// Default returns the settings used when a key is absent from the file.
func Default() Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Server.ShutdownTimeout = "5s"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Kafka.Topic = "dilemma.resolved"
	cfg.Store.MaxAttempts = 5
	cfg.Store.BatchOps = 450
	cfg.Scoring.CacheTTL = "10m"
	cfg.Ranking.PageSize = 500
	cfg.Leaderboard.Freshness = "15m"
	cfg.Leaderboard.SnapshotLimit = 200
	cfg.Leaderboard.Retention = "24h"
	cfg.RateLimit.UserPerMinute = 10
	cfg.RateLimit.IPPerMinute = 30
	return cfg
}

// Load reads YAML config from path on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
