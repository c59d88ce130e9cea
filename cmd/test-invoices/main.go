package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/invoicerisk/internal/testinvoices"
)

// Default configuration constants.
const (
	defaultInvoices    = 500
	defaultLines       = 20
	defaultAnomalyRate = 0.1
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		invoices   = flag.Int("invoices", defaultInvoices, "Number of invoices to submit")
		lines      = flag.Int("lines", defaultLines, "Line items per invoice")
		anomalies  = flag.Float64("anomalies", defaultAnomalyRate, "Share of suspicious lines")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent submitters")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		wait       = flag.Duration("wait", testinvoices.DefaultWaitTimeout, "Upper bound on waiting for jobs")
		seed       = flag.Uint64("seed", 1, "Generator seed")
		outputFile = flag.String("output", "", "Write generated invoices to this JSON file")
		logFile    = flag.String("log", "", "Also log to this file")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		testinvoices.ShowHelp()
		return
	}

	if err := testinvoices.SetupLogging(*logFile, *verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	cfg := &testinvoices.Config{
		BaseURL:         *baseURL,
		NumInvoices:     *invoices,
		LinesPerInvoice: *lines,
		AnomalyRate:     *anomalies,
		Workers:         *workers,
		Timeout:         *timeout,
		WaitTimeout:     *wait,
		Seed:            *seed,
		OutputFile:      *outputFile,
		Verbose:         *verbose,
	}

	if _, err := testinvoices.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Test failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}
