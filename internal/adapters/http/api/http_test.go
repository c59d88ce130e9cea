package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/invoicerisk/internal/adapters/http/api"
	"github.com/okian/invoicerisk/internal/adapters/models"
	"github.com/okian/invoicerisk/internal/adapters/repository"
	service "github.com/okian/invoicerisk/internal/app"
	"github.com/okian/invoicerisk/internal/domain/benchmark"
	"github.com/okian/invoicerisk/internal/domain/jobs"
	"github.com/okian/invoicerisk/internal/domain/model"
	"github.com/okian/invoicerisk/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeDeps struct {
	stats       types.Stats
	scoreErr    error
	compareErr  error
	submitErr   error
	reloadErr   error
	benchErr    error
	duplicate   bool
	jobs        map[string]jobs.Record
	benchmarks  []benchmark.RateBenchmark
	lastArea    string
	lastItems   []model.LineItem
	lastRecords []map[string]any
}

func newFakeDeps() *fakeDeps {
	return &fakeDeps{
		stats: types.Stats{Started: true, ModelsLoaded: true, BenchmarkEntries: 9},
		jobs:  map[string]jobs.Record{},
		benchmarks: []benchmark.RateBenchmark{
			{PracticeArea: "litigation", Role: "partner", Mean: 650, Std: 120, Median: 625, Count: 40},
		},
	}
}

func (f *fakeDeps) GetStats() types.Stats { return f.stats }

func (f *fakeDeps) ScoreRecords(_ context.Context, records []map[string]any) (types.ScoreResponse, error) {
	f.lastRecords = records
	if f.scoreErr != nil {
		return types.ScoreResponse{}, f.scoreErr
	}
	results := make([]model.ScoreResult, len(records))
	for i := range results {
		results[i] = model.ScoreResult{RiskScore: 0.2}
	}
	return types.ScoreResponse{
		Results:  results,
		Metadata: model.Metadata{Method: model.MethodML, ModelsLoaded: true, LinesScored: len(records)},
	}, nil
}

func (f *fakeDeps) Compare(_ context.Context, area string, items []model.LineItem) (benchmark.Comparison, error) {
	f.lastArea, f.lastItems = area, items
	if f.compareErr != nil {
		return benchmark.Comparison{}, f.compareErr
	}
	return benchmark.Comparison{MarketPosition: "market_rate", PracticeArea: area}, nil
}

func (f *fakeDeps) Analyze(_ context.Context, area string, items []model.LineItem) (types.Analysis, error) {
	f.lastArea, f.lastItems = area, items
	return types.Analysis{Summary: types.Summary{LineCount: len(items)}}, nil
}

func (f *fakeDeps) SubmitJob(_ context.Context, id, area string, items []model.LineItem) (jobs.Record, bool, error) {
	if f.submitErr != nil {
		return jobs.Record{}, false, f.submitErr
	}
	if id == "" {
		id = "generated"
	}
	rec := jobs.Record{ID: id, Status: model.JobQueued, PracticeArea: area, LineCount: len(items)}
	f.jobs[id] = rec
	return rec, f.duplicate, nil
}

func (f *fakeDeps) Job(id string) (jobs.Record, error) {
	rec, ok := f.jobs[id]
	if !ok {
		return jobs.Record{}, fmt.Errorf("job %q: %w", id, jobs.ErrNotFound)
	}
	return rec, nil
}

func (f *fakeDeps) ReloadModels(context.Context) error     { return f.reloadErr }
func (f *fakeDeps) ReloadBenchmarks(context.Context) error { return f.reloadErr }

func (f *fakeDeps) Benchmarks(area string) ([]benchmark.RateBenchmark, error) {
	f.lastArea = area
	return f.benchmarks, f.benchErr
}

func (f *fakeDeps) ModelStatus() models.Status {
	return models.Status{Loaded: f.stats.ModelsLoaded, Version: "v-test"}
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
	return out
}

func TestServerRoutes(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := newFakeDeps()
		router := api.NewServer(deps).Router(context.Background())

		Convey("When the health endpoint is called", func() {
			w := do(router, http.MethodGet, "/healthz", "")

			Convey("Then it should report ok", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["status"], ShouldEqual, "ok")
			})
		})

		Convey("When models are missing", func() {
			deps.stats.ModelsLoaded = false
			w := do(router, http.MethodGet, "/healthz", "")

			Convey("Then health should stay up but degraded", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["status"], ShouldEqual, "degraded")
			})
		})

		Convey("When the service has not started", func() {
			deps.stats.Started = false
			w := do(router, http.MethodGet, "/healthz", "")

			Convey("Then health should be unavailable", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			})
		})

		Convey("When stats are requested", func() {
			w := do(router, http.MethodGet, "/stats", "")

			Convey("Then the service stats should be returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["benchmark_entries"], ShouldEqual, float64(9))
			})
		})

		Convey("When metrics are scraped", func() {
			do(router, http.MethodGet, "/stats", "")
			w := do(router, http.MethodGet, "/metrics", "")

			Convey("Then the exposition should include HTTP metrics", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "http_requests_total")
			})
		})

		Convey("When an unknown route is requested", func() {
			w := do(router, http.MethodGet, "/unknown", "")

			Convey("Then it should be not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestScoreEndpoints(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := newFakeDeps()
		router := api.NewServer(deps).Router(context.Background())
		body := `{"practice_area":"Litigation","line_items":[{"hours":2,"rate":650,"timekeeper_role":"Partner","description":"Draft motion"}]}`

		Convey("When a batch is scored", func() {
			w := do(router, http.MethodPost, "/v1/score", body)

			Convey("Then one result per line should be returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				out := decode(w)
				So(out["results"], ShouldHaveLength, 1)
				So(out["metadata"].(map[string]any)["method"], ShouldEqual, "ml")
				So(deps.lastRecords, ShouldHaveLength, 1)
			})
		})

		Convey("When an empty batch is scored", func() {
			w := do(router, http.MethodPost, "/v1/score", `{"line_items":[]}`)

			Convey("Then it should be accepted", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When line_items is missing", func() {
			w := do(router, http.MethodPost, "/v1/score", `{}`)

			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decode(w)["code"], ShouldEqual, "bad_request")
			})
		})

		Convey("When the body is malformed", func() {
			w := do(router, http.MethodPost, "/v1/score", `{"line_items":[`)

			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the batch is too large", func() {
			deps.scoreErr = fmt.Errorf("2000 lines: %w", service.ErrBatchTooLarge)
			w := do(router, http.MethodPost, "/v1/score", body)

			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decode(w)["message"], ShouldContainSubstring, "max_batch_size")
			})
		})

		Convey("When the service is not started", func() {
			deps.scoreErr = service.ErrNotStarted
			w := do(router, http.MethodPost, "/v1/score", body)

			Convey("Then it should be unavailable", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			})
		})

		Convey("When an invoice is benchmarked", func() {
			w := do(router, http.MethodPost, "/v1/benchmark", body)

			Convey("Then line items should be coerced and compared", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastArea, ShouldEqual, "Litigation")
				So(deps.lastItems, ShouldHaveLength, 1)
				So(deps.lastItems[0].Rate, ShouldEqual, 650)
				So(decode(w)["market_position"], ShouldEqual, "market_rate")
			})
		})

		Convey("When benchmarks are not loaded", func() {
			deps.compareErr = repository.ErrNotLoaded
			w := do(router, http.MethodPost, "/v1/benchmark", body)

			Convey("Then it should be unavailable", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			})
		})

		Convey("When an invoice is analysed", func() {
			w := do(router, http.MethodPost, "/v1/analyze", body)

			Convey("Then the summary should be returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["summary"].(map[string]any)["line_count"], ShouldEqual, float64(1))
			})
		})
	})
}

func TestJobEndpoints(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := newFakeDeps()
		router := api.NewServer(deps).Router(context.Background())
		body := `{"job_id":"inv-1","practice_area":"litigation","line_items":[{"hours":1,"rate":300}]}`

		Convey("When a job is submitted", func() {
			w := do(router, http.MethodPost, "/v1/jobs", body)

			Convey("Then it should be accepted", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				out := decode(w)
				So(out["job_id"], ShouldEqual, "inv-1")
				So(out["status"], ShouldEqual, "queued")
				So(out["duplicate"], ShouldBeFalse)
			})

			Convey("And it can be looked up", func() {
				w := do(router, http.MethodGet, "/v1/jobs/inv-1", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["line_count"], ShouldEqual, float64(1))
			})
		})

		Convey("When a job is resubmitted", func() {
			deps.duplicate = true
			w := do(router, http.MethodPost, "/v1/jobs", body)

			Convey("Then it should answer 200 and flag the duplicate", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["duplicate"], ShouldBeTrue)
			})
		})

		Convey("When the queue is full", func() {
			deps.submitErr = fmt.Errorf("submit: %w", service.ErrBackpressure)
			w := do(router, http.MethodPost, "/v1/jobs", body)

			Convey("Then it should answer 429", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			})
		})

		Convey("When the job has no line items", func() {
			deps.submitErr = service.ErrEmptyJob
			w := do(router, http.MethodPost, "/v1/jobs", `{"line_items":[]}`)

			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When an unknown job is requested", func() {
			w := do(router, http.MethodGet, "/v1/jobs/missing", "")

			Convey("Then it should be not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestAdminEndpoints(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := newFakeDeps()
		router := api.NewServer(deps).Router(context.Background())

		Convey("When model status is requested", func() {
			w := do(router, http.MethodGet, "/v1/models", "")

			Convey("Then the registry status should be returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["version"], ShouldEqual, "v-test")
			})
		})

		Convey("When models are reloaded", func() {
			w := do(router, http.MethodPost, "/v1/models/reload", "")

			Convey("Then the new version should be reported", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				out := decode(w)
				So(out["reloaded"], ShouldBeTrue)
				So(out["version"], ShouldEqual, "v-test")
			})
		})

		Convey("When a reload fails", func() {
			deps.reloadErr = errors.New("artifact missing")
			w := do(router, http.MethodPost, "/v1/models/reload", "")

			Convey("Then the error should be reported", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				out := decode(w)
				So(out["reloaded"], ShouldBeFalse)
				So(out["error"], ShouldEqual, "artifact missing")
			})
		})

		Convey("When benchmarks are reloaded", func() {
			w := do(router, http.MethodPost, "/v1/benchmarks/reload", "")

			Convey("Then the entry count should be reported", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["entries"], ShouldEqual, float64(9))
			})
		})

		Convey("When benchmarks are listed for an area", func() {
			w := do(router, http.MethodGet, "/v1/benchmarks?practice_area=litigation", "")

			Convey("Then the entries should be returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastArea, ShouldEqual, "litigation")
				So(decode(w)["benchmarks"], ShouldHaveLength, 1)
			})
		})

		Convey("When no benchmarks match", func() {
			deps.benchmarks = nil
			w := do(router, http.MethodGet, "/v1/benchmarks?practice_area=tax", "")

			Convey("Then an empty list should be returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["benchmarks"], ShouldBeEmpty)
			})
		})
	})
}

func TestErrorKinds(t *testing.T) {
	Convey("Given a wrapped API error", t, func() {
		cause := errors.New("unexpected EOF")
		err := api.WrapKind("score", api.ErrBadRequest, cause)

		Convey("Then both kind and cause should match", func() {
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "score: unexpected EOF")
		})

		Convey("And a bare kind should read op and kind", func() {
			e := api.NewKind("submit job", api.ErrBackpressure)
			So(errors.Is(e, api.ErrBackpressure), ShouldBeTrue)
			So(e.Error(), ShouldEqual, "submit job: backpressure")
		})
	})
}
