package testinvoices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/invoicerisk/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0600
)

// ErrVerification reports that the service returned inconsistent results.
var ErrVerification = errors.New("result verification failed")

// Run executes a complete invoice run and returns its statistics.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	applyDefaults(cfg)
	stats := &Stats{StartTime: time.Now()}
	log := logger.Named("testinvoices")

	log.Info(ctx, "starting invoice run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("invoices", cfg.NumInvoices),
		logger.Int("linesPerInvoice", cfg.LinesPerInvoice),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout))

	if err := checkServiceHealth(ctx, cfg); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	invoices, err := generateInvoices(ctx, cfg, stats)
	if err != nil {
		return stats, fmt.Errorf("invoice generation failed: %w", err)
	}

	if err := submitInvoices(ctx, cfg, invoices, stats); err != nil {
		return stats, fmt.Errorf("invoice submission failed: %w", err)
	}

	records, err := pollJobs(ctx, cfg, invoices)
	if err != nil {
		return stats, fmt.Errorf("waiting for jobs failed: %w", err)
	}

	violations := verifyResults(ctx, cfg, invoices, records, stats)

	if cfg.OutputFile != "" {
		if err := saveInvoicesToFile(ctx, cfg.OutputFile, invoices); err != nil {
			log.Warn(ctx, "failed to save invoices to file", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(stats)

	if violations > 0 {
		return stats, fmt.Errorf("%w: %d violations", ErrVerification, violations)
	}
	return stats, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.LinesPerInvoice < 1 {
		cfg.LinesPerInvoice = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
}

// checkServiceHealth verifies the service is running. A degraded service
// still answers 200 and is accepted.
func checkServiceHealth(ctx context.Context, cfg *Config) error {
	client := newHTTPClient(cfg.Timeout)
	resp, err := client.Get(ctx, cfg.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return fmt.Errorf("failed to read health response: %w", err)
	}
	if resp.StatusCode != StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}

	var health struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(body, &health)
	logger.Named("testinvoices").Info(ctx, "service is healthy", logger.String("status", health.Status))
	return nil
}

// saveInvoicesToFile writes the generated invoices as a JSON array.
func saveInvoicesToFile(ctx context.Context, filename string, invoices []Invoice) error {
	if len(invoices) == 0 {
		return errors.New("no invoices to save")
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(invoices, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal invoices: %w", err)
	}
	if err := os.WriteFile(filename, append(data, '\n'), filePermission); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	logger.Named("testinvoices").Info(ctx, "invoices saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(stats *Stats) {
	var flaggedRate, invoicesPerSecond float64
	if stats.LinesGenerated > 0 {
		flaggedRate = float64(stats.LinesFlagged) / float64(stats.LinesGenerated) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		invoicesPerSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}

	logger.Named("testinvoices").Info(context.Background(), "final statistics",
		logger.Int("invoicesGenerated", stats.InvoicesGenerated),
		logger.Int("linesGenerated", stats.LinesGenerated),
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("throttled", stats.Throttled),
		logger.Int("failed", stats.Failed),
		logger.Int("completed", stats.Completed),
		logger.Int("jobsFailed", stats.JobsFailed),
		logger.Int("linesFlagged", stats.LinesFlagged),
		logger.Int("violations", stats.Violations),
		logger.Duration("duration", stats.Duration),
		logger.Float64("flaggedPercent", flaggedRate),
		logger.Float64("invoicesPerSecond", invoicesPerSecond))
}
