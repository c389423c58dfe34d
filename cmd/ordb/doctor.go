package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/ordb/internal/classify"
	"github.com/franz/ordb/internal/store"
	"github.com/franz/ordb/internal/util"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure ordb can operate correctly.

This command checks:
- SQLite availability
- Database accessibility, integrity and lock state
- Classification service health
- File permissions (read sources, write destination)
- Disk space availability

Use this command to troubleshoot issues before running ordb operations.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	// Doctor-specific flags
	doctorCmd.Flags().StringSlice("src", nil, "Source directory to check (optional, repeatable)")
	doctorCmd.Flags().String("dest", "", "Destination directory to check (optional)")
	doctorCmd.Flags().Bool("no-service", false, "Skip the classification service check")
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	util.InfoLog("=== ordb doctor - System Diagnostics ===")
	util.InfoLog("")

	results := []checkResult{}

	// 1. Check SQLite
	results = append(results, checkSQLite())

	// 2. Check database file
	dbPath := viper.GetString("db")
	results = append(results, checkDatabase(dbPath))
	results = append(results, checkLock(dbPath))

	// 3. Check classification service
	if skip, _ := cmd.Flags().GetBool("no-service"); !skip && GetConfigBool("classify") {
		results = append(results, checkService(GetConfigString("service_url", classify.DefaultBaseURL)))
	}

	// 4. Check source directories
	srcPaths, _ := cmd.Flags().GetStringSlice("src")
	if len(srcPaths) == 0 {
		srcPaths = GetConfigStringSlice("source")
	}
	for _, src := range srcPaths {
		results = append(results, checkSourceDirectory(src))
	}

	// 5. Check destination directory
	destPath, _ := cmd.Flags().GetString("dest")
	if destPath == "" {
		destPath = GetConfigString("destination", "")
	}
	if destPath != "" {
		results = append(results, checkDestinationDirectory(destPath))
		results = append(results, checkDiskSpace(destPath, "destination"))
	}

	// Print results
	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	// Summary
	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("Some critical checks failed. Please resolve errors before running ordb.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("All checks passed! System is ready for ordb operations.")
	}

	return nil
}

// checkSQLite verifies SQLite version
func checkSQLite() checkResult {
	// modernc.org/sqlite is compiled in, so only the version query can fail
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{
			name:    "SQLite",
			error:   true,
			message: "unable to determine version",
		}
	}

	return checkResult{
		name:    "SQLite",
		message: fmt.Sprintf("version %s (built-in)", version),
	}
}

// checkDatabase verifies database file accessibility
func checkDatabase(dbPath string) checkResult {
	if dbPath == "" {
		return checkResult{
			name:    "Database",
			warning: true,
			message: "no database path specified (use --db flag or config)",
		}
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "Database",
				message: fmt.Sprintf("%s (will be created on first run)", dbPath),
			}
		}
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", dbPath, err),
		}
	}

	if !info.Mode().IsRegular() {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("%s is not a regular file", dbPath),
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", dbPath, err),
		}
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}

	counts, _ := db.CountByStatus(context.Background())
	total := 0
	for _, n := range counts {
		total += n
	}
	size := util.FormatBytes(info.Size())

	return checkResult{
		name:    "Database",
		message: fmt.Sprintf("%s (%s, %d files)", dbPath, size, total),
	}
}

// checkLock reports whether another process holds the database lock
func checkLock(dbPath string) checkResult {
	if dbPath == "" {
		return checkResult{name: "Lock", warning: true, message: "no database path specified"}
	}
	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		return checkResult{name: "Lock", warning: true, message: fmt.Sprintf("cannot access %s: %v", filepath.Dir(dbPath), err)}
	}

	lock, err := store.AcquireLock(dbPath)
	if err != nil {
		return checkResult{
			name:    "Lock",
			warning: true,
			message: err.Error(),
		}
	}
	lock.Release()

	return checkResult{
		name:    "Lock",
		message: "not held",
	}
}

// checkService verifies the classification service answers its health check
func checkService(baseURL string) checkResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := classify.NewClient(&classify.Config{BaseURL: baseURL, Timeout: 5 * time.Second})
	status, err := client.Health(ctx)
	if err != nil {
		return checkResult{
			name:    "Classification service",
			warning: true,
			message: fmt.Sprintf("%s unreachable: %v (use --no-classify to run without it)", baseURL, err),
		}
	}
	if status != classify.StatusReady {
		return checkResult{
			name:    "Classification service",
			warning: true,
			message: fmt.Sprintf("%s reports %q", baseURL, status),
		}
	}

	return checkResult{
		name:    "Classification service",
		message: fmt.Sprintf("%s ready", baseURL),
	}
}

// checkSourceDirectory verifies source directory is readable
func checkSourceDirectory(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		return checkResult{
			name:    "Source directory",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    "Source directory",
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return checkResult{
			name:    "Source directory",
			error:   true,
			message: fmt.Sprintf("cannot read %s: %v", path, err),
		}
	}

	return checkResult{
		name:    "Source directory",
		message: fmt.Sprintf("%s (%d entries)", path, len(entries)),
	}
}

// checkDestinationDirectory verifies destination directory is writable
func checkDestinationDirectory(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return checkResult{
					name:    "Destination directory",
					error:   true,
					message: fmt.Sprintf("cannot create %s: %v", path, err),
				}
			}
			return checkResult{
				name:    "Destination directory",
				message: fmt.Sprintf("%s (created)", path),
			}
		}
		return checkResult{
			name:    "Destination directory",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    "Destination directory",
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	// Check write permission by creating a temp file
	testFile := filepath.Join(path, ".ordb_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return checkResult{
			name:    "Destination directory",
			error:   true,
			message: fmt.Sprintf("cannot write to %s: %v", path, err),
		}
	}
	f.Close()
	os.Remove(testFile)

	return checkResult{
		name:    "Destination directory",
		message: fmt.Sprintf("%s (writable)", path),
	}
}

// checkDiskSpace verifies available disk space
func checkDiskSpace(path string, label string) checkResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{
			name:    fmt.Sprintf("Disk space (%s)", label),
			warning: true,
			message: fmt.Sprintf("cannot determine disk space: %v", err),
		}
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	totalBytes := stat.Blocks * uint64(stat.Bsize)
	usedBytes := totalBytes - (stat.Bfree * uint64(stat.Bsize))

	usedPercent := 0.0
	if totalBytes > 0 {
		usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	}

	// Warn if less than 10GB available or >90% used
	warning := false
	warningMsg := ""
	if availBytes < 10<<30 {
		warning = true
		warningMsg = " (low space!)"
	} else if usedPercent > 90 {
		warning = true
		warningMsg = " (>90% used)"
	}

	return checkResult{
		name:    fmt.Sprintf("Disk space (%s)", label),
		warning: warning,
		message: fmt.Sprintf("%s available%s", util.FormatBytes(int64(availBytes)), warningMsg),
	}
}
