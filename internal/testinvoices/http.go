package testinvoices

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/invoicerisk/pkg/logger"
)

// HTTPClient wraps http.Client with a timeout.
type HTTPClient struct {
	client *http.Client
}

func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with a JSON body.
func (c *HTTPClient) Post(ctx context.Context, url string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

type submitResult int

const (
	submitAccepted submitResult = iota
	submitDuplicate
	submitThrottled
	submitFailed
)

// submitInvoices posts every invoice to /v1/jobs using cfg.Workers
// submitters. Throttled submissions are retried with a linear backoff.
func submitInvoices(ctx context.Context, cfg *Config, invoices []Invoice, stats *Stats) error {
	log := logger.Named("testinvoices")
	log.Info(ctx, "submitting invoices", logger.Int("invoices", len(invoices)), logger.Int("workers", cfg.Workers))

	client := newHTTPClient(cfg.Timeout)
	endpoint := cfg.BaseURL + "/v1/jobs"

	var accepted, duplicate, throttled, failed, submitted atomic.Int64
	ch := make(chan Invoice, cfg.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for inv := range ch {
				res, retries := submitWithRetry(ctx, client, endpoint, inv)
				submitted.Add(1)
				throttled.Add(int64(retries))
				switch res {
				case submitAccepted:
					accepted.Add(1)
				case submitDuplicate:
					duplicate.Add(1)
				default:
					failed.Add(1)
					if cfg.Verbose {
						log.Warn(ctx, "submission failed", logger.String("jobID", inv.JobID))
					}
				}
			}
		}()
	}

	go func() {
		defer close(ch)
		for _, inv := range invoices {
			select {
			case <-ctx.Done():
				return
			case ch <- inv:
			}
		}
	}()
	wg.Wait()

	stats.Submitted = int(submitted.Load())
	stats.Accepted = int(accepted.Load())
	stats.Duplicate = int(duplicate.Load())
	stats.Throttled = int(throttled.Load())
	stats.Failed = int(failed.Load())

	log.Info(ctx, "submission completed",
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("throttled", stats.Throttled),
		logger.Int("failed", stats.Failed))

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submission interrupted: %w", err)
	}
	return nil
}

// submitWithRetry returns the final outcome and how many 429s were seen.
func submitWithRetry(ctx context.Context, client *HTTPClient, endpoint string, inv Invoice) (submitResult, int) {
	retries := 0
	for attempt := 1; attempt <= maxSubmitAttempts; attempt++ {
		res := submitSingleInvoice(ctx, client, endpoint, inv)
		if res != submitThrottled {
			return res, retries
		}
		retries++
		select {
		case <-ctx.Done():
			return submitFailed, retries
		case <-time.After(time.Duration(attempt) * throttleBackoff):
		}
	}
	return submitFailed, retries
}

func submitSingleInvoice(ctx context.Context, client *HTTPClient, endpoint string, inv Invoice) submitResult {
	resp, err := client.Post(ctx, endpoint, inv)
	if err != nil {
		return submitFailed
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return submitFailed
	}

	switch resp.StatusCode {
	case StatusAccepted, StatusOK:
		var ack JobAck
		if err := json.Unmarshal(body, &ack); err != nil || ack.JobID != inv.JobID {
			return submitFailed
		}
		if ack.Duplicate {
			return submitDuplicate
		}
		return submitAccepted
	case StatusTooManyRequests:
		return submitThrottled
	default:
		return submitFailed
	}
}

// pollJobs waits until every job is terminal or cfg.WaitTimeout elapses.
// It returns the last record seen for each id, in invoice order.
func pollJobs(ctx context.Context, cfg *Config, invoices []Invoice) ([]JobRecord, error) {
	client := newHTTPClient(cfg.Timeout)
	records := make([]JobRecord, len(invoices))
	pending := make(map[int]struct{}, len(invoices))
	for i := range invoices {
		pending[i] = struct{}{}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.WaitTimeout)
	defer cancel()

	for len(pending) > 0 {
		for i := range pending {
			rec, err := fetchJob(ctx, client, cfg.BaseURL, invoices[i].JobID)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				continue
			}
			records[i] = rec
			if rec.Status.Terminal() {
				delete(pending, i)
			}
		}
		if len(pending) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return records, fmt.Errorf("%d jobs unfinished: %w", len(pending), ctx.Err())
		case <-time.After(cfg.PollInterval):
		}
	}
	return records, nil
}

func fetchJob(ctx context.Context, client *HTTPClient, baseURL, id string) (JobRecord, error) {
	resp, err := client.Get(ctx, baseURL+"/v1/jobs/"+url.PathEscape(id))
	if err != nil {
		return JobRecord{}, err
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return JobRecord{}, err
	}
	if resp.StatusCode != StatusOK {
		return JobRecord{}, fmt.Errorf("job %s: status %d", id, resp.StatusCode)
	}
	var rec JobRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return JobRecord{}, fmt.Errorf("job %s: %w", id, err)
	}
	return rec, nil
}
