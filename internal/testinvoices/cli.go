package testinvoices

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/invoicerisk/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging configures logging to stdout and, when logFile is set, to
// that file as well.
func SetupLogging(logFile string, verbose bool) error {
	var w io.Writer = os.Stdout
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, file)
	}
	if err := logger.Init(logger.WithWriter(w)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		return logger.SetLevelString("debug")
	}
	return nil
}

// ShowHelp prints usage information for the invoice test tool.
func ShowHelp() {
	os.Stdout.WriteString(`Invoice Risk Test Tool
======================

Submits synthetic invoices through the asynchronous job API, waits for
every job to finish and checks the returned scores for consistency.

Usage:
  go run ./cmd/test-invoices [options]

Options:
  -url string         Base URL of the service (default "http://localhost:9080")
  -invoices int       Number of invoices to submit (default 500)
  -lines int          Line items per invoice (default 20)
  -anomalies float    Share of suspicious lines (default 0.1)
  -workers int        Concurrent submitters (default CPU cores * 2)
  -timeout duration   HTTP request timeout (default 30s)
  -wait duration      Upper bound on waiting for jobs (default 2m)
  -seed uint          Generator seed (default 1)
  -output string      Write generated invoices to this JSON file
  -log string         Also log to this file
  -verbose            Enable verbose logging
  -help               Show this help message

Examples:
  go run ./cmd/test-invoices -invoices 2000 -workers 16
  go run ./cmd/test-invoices -anomalies 0.5 -verbose
`)
}
