package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/franz/ordb/internal/report"
	"github.com/franz/ordb/internal/store"
	"github.com/franz/ordb/internal/util"
)

// setDefaults registers the default of every configuration key
func setDefaults() {
	viper.SetDefault("batch_size", 64)
	viper.SetDefault("confidence_threshold", 0.3)
	viper.SetDefault("concurrency", 4)
	viper.SetDefault("queue_size", 100)
	viper.SetDefault("service_url", "http://127.0.0.1:8000")
	viper.SetDefault("health_retries", 30)
	viper.SetDefault("health_interval", 2*time.Second)
	viper.SetDefault("classify", true)
	viper.SetDefault("classify_concurrency", 2)
	viper.SetDefault("verify", "size")
	viper.SetDefault("report_path", "dry_run_report.txt")
	viper.SetDefault("language", "en")
	viper.SetDefault("events_dir", "artifacts")
}

// GetConfigString retrieves a string config value with proper precedence:
// 1. Command-line flag (if set)
// 2. Environment variable (ORDB_*)
// 3. Config file
// 4. Default value
func GetConfigString(key string, defaultValue string) string {
	val := viper.GetString(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// GetConfigInt retrieves an int config value with proper precedence
func GetConfigInt(key string, defaultValue int) int {
	val := viper.GetInt(key)
	if val == 0 {
		return defaultValue
	}
	return val
}

// GetConfigFloat retrieves a float config value with proper precedence
func GetConfigFloat(key string, defaultValue float64) float64 {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetFloat64(key)
}

// GetConfigDuration retrieves a duration config value ("2s", "500ms")
func GetConfigDuration(key string, defaultValue time.Duration) time.Duration {
	val := viper.GetDuration(key)
	if val <= 0 {
		return defaultValue
	}
	return val
}

// GetConfigBool retrieves a bool config value
func GetConfigBool(key string) bool {
	return viper.GetBool(key)
}

// GetConfigStringSlice retrieves a string slice config value
func GetConfigStringSlice(key string) []string {
	return viper.GetStringSlice(key)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openStore takes the advisory lock and opens the state database.
// The returned func closes both.
func openStore() (*store.Store, func(), error) {
	dbPath := viper.GetString("db")

	lock, err := store.AcquireLock(dbPath)
	if err != nil {
		return nil, nil, err
	}

	util.InfoLog("Opening database: %s", dbPath)
	db, err := store.Open(dbPath)
	if err != nil {
		lock.Release()
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	return db, func() {
		db.Close()
		lock.Release()
	}, nil
}

// openEventLogger creates the JSONL event log, falling back to a no-op
// logger when the directory is not writable
func openEventLogger() *report.EventLogger {
	logLevel := report.LevelInfo
	if viper.GetBool("quiet") {
		logLevel = report.LevelWarning
	} else if viper.GetBool("verbose") {
		logLevel = report.LevelDebug
	}
	if viper.IsSet("event_level") {
		logLevel = report.ParseLevel(viper.GetString("event_level"))
	}

	logger, err := report.NewEventLogger(GetConfigString("events_dir", "artifacts"), logLevel)
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		return report.NullLogger()
	}
	if logger.Path() != "" {
		util.InfoLog("Event log: %s", logger.Path())
	}
	return logger
}
