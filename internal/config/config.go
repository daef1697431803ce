package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"reddot-watch/newsbatch/internal/dedupe"
)

// Config holds all configuration for the application
type Config struct {
	// File paths
	DataDir   string
	BatchPath string
	DBPath    string
	RulesPath string

	// Partition settings
	Timezone string

	// Server settings
	ServerHost string
	ServerPort int
	APIKey     string

	// Processing settings
	WorkerCount          int
	Interval             time.Duration
	Watch                bool
	WatchDebounce        time.Duration
	JournalRetentionDays int

	// Canonicalization rules, loaded from RulesPath
	Rules dedupe.Rules

	// Log settings
	LogLevel zerolog.Level
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		DataDir:              DefaultDataDir,
		BatchPath:            DefaultBatchPath,
		DBPath:               DefaultDBPath,
		RulesPath:            DefaultRulesPath,
		Timezone:             DefaultTimezone,
		ServerHost:           DefaultServerHost,
		ServerPort:           DefaultServerPort,
		APIKey:               GetEnvString("NEWSBATCH_API_KEY", ""),
		WorkerCount:          DefaultWorkerCount,
		Interval:             time.Duration(DefaultInterval) * time.Minute,
		Watch:                DefaultWatch,
		WatchDebounce:        time.Duration(DefaultWatchDebounceMS) * time.Millisecond,
		JournalRetentionDays: DefaultJournalRetentionDays,
		Rules:                dedupe.DefaultRules(),
		LogLevel:             GetEnvLogLevel("NEWSBATCH_LOG_LEVEL", logLevel),
	}
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// Location resolves Timezone. "Local" and "" mean the host's zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
