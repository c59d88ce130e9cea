package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should register the scoring collectors", func() {
				So(manager, ShouldNotBeNil)
				manager.batchesScored.WithLabelValues("ml").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "invoicerisk_engine_batches_scored_total")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("sub"),
				WithMetricPrefix("pfx"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithMetricsEnabled(true),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then metric names should carry namespace, subsystem and prefix", func() {
				manager.rowErrors.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_sub_pfx_row_errors_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetName(), ShouldEqual, "env")
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording scoring metrics", func() {
			before := testutil.ToFloat64(globalManager.linesScored.WithLabelValues("deterministic"))
			RecordBatchScored("deterministic")
			RecordLinesScored("deterministic", 4)
			RecordLinesFlagged("deterministic", 1)
			RecordScoringLatency("deterministic", 2.5)

			Convey("Then the line counter should grow by the batch size", func() {
				after := testutil.ToFloat64(globalManager.linesScored.WithLabelValues("deterministic"))
				So(after-before, ShouldEqual, 4)
			})
		})

		Convey("When recording non-positive line counts", func() {
			before := testutil.ToFloat64(globalManager.linesFlagged.WithLabelValues("ml"))
			RecordLinesFlagged("ml", 0)
			RecordLinesFlagged("ml", -3)

			Convey("Then counters should be unchanged", func() {
				So(testutil.ToFloat64(globalManager.linesFlagged.WithLabelValues("ml")), ShouldEqual, before)
			})
		})

		Convey("When toggling model state", func() {
			SetModelsLoaded(true)
			So(testutil.ToFloat64(globalManager.modelsLoaded), ShouldEqual, 1)
			SetModelsLoaded(false)
			So(testutil.ToFloat64(globalManager.modelsLoaded), ShouldEqual, 0)
		})

		Convey("When recording job metrics", func() {
			before := testutil.ToFloat64(globalManager.jobsProcessed.WithLabelValues("failure"))
			UpdateQueueCapacity(8)
			UpdateQueueSize(3)
			RecordJobEnqueued()
			RecordEnqueueError("queue_full")
			RecordJobProcessed("failure")
			RecordJobLatency(12)
			UpdateActiveWorkers(2)
			RecordDuplicateJob()

			Convey("Then gauges and counters should reflect them", func() {
				So(testutil.ToFloat64(globalManager.queueCapacity), ShouldEqual, 8)
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 3)
				So(testutil.ToFloat64(globalManager.activeWorkers), ShouldEqual, 2)
				So(testutil.ToFloat64(globalManager.jobsProcessed.WithLabelValues("failure"))-before, ShouldEqual, 1)
			})
		})

		Convey("When recording the remaining metrics", func() {
			So(func() {
				RecordFallback("ml_error")
				RecordRowError()
				RecordModelReload("success")
				RecordBenchmarkComparison("above_market")
				RecordOutliers(2)
				UpdateBenchmarkEntries(12)
				RecordHTTPRequest("/v1/score", "POST", "200")
				RecordHTTPRequestDuration("/v1/score", "POST", "200", 3.0)
				RecordErrorByComponent("scoring", "ml_error")
				RecordErrorByEndpoint("/v1/score", "POST", "client_error")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(10)
				RecordSystemGCPauseTime(0.5)
			}, ShouldNotPanic)
			So(testutil.ToFloat64(globalManager.benchmarkEntries), ShouldEqual, 12)
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given concurrent recorders", t, func() {
		before := testutil.ToFloat64(globalManager.batchesScored.WithLabelValues("ml"))
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					RecordBatchScored("ml")
					RecordScoringLatency("ml", float64(j))
				}
			}()
		}
		wg.Wait()

		Convey("Then every increment should be counted", func() {
			after := testutil.ToFloat64(globalManager.batchesScored.WithLabelValues("ml"))
			So(after-before, ShouldEqual, 1000)
		})
	})
}

func TestGetRegistry(t *testing.T) {
	Convey("Given the custom registry", t, func() {
		So(GetRegistry(), ShouldNotBeNil)
		_, err := GetRegistry().Gather()
		So(err, ShouldBeNil)
	})
}
