package cmd

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/prometheus/common/expfmt"
	log "github.com/sirupsen/logrus"
)

// PrometheusConfig holds configuration for Prometheus metrics reporting
type PrometheusConfig struct {
	Enabled bool
	PushURL string
	JobName string
}

// BenchMetrics holds the Prometheus gauges for one benchmark run
type BenchMetrics struct {
	MeanLatency      prometheus.Gauge
	P99Latency       prometheus.Gauge
	BatchesPerSecond prometheus.Gauge
	RecordsPerSecond prometheus.Gauge
	HeapAllocBytes   prometheus.Gauge
	HeapInuseBytes   prometheus.Gauge
	HeapSysBytes     prometheus.Gauge
	BatchSize        prometheus.Gauge
	CropSize         prometheus.Gauge
	Parallelization  prometheus.Gauge
}

// NewBenchMetrics creates a new set of benchmark gauges
func NewBenchMetrics(registry *prometheus.Registry, labels prometheus.Labels) *BenchMetrics {
	metrics := &BenchMetrics{
		MeanLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "batchfeed_bench_mean_latency_seconds",
			Help:        "Mean latency of batch acquisition in seconds",
			ConstLabels: labels,
		}),
		P99Latency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "batchfeed_bench_p99_latency_seconds",
			Help:        "P99 latency of batch acquisition in seconds",
			ConstLabels: labels,
		}),
		BatchesPerSecond: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "batchfeed_bench_batches_per_second",
			Help:        "Batches acquired per second during the run",
			ConstLabels: labels,
		}),
		RecordsPerSecond: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "batchfeed_bench_records_per_second",
			Help:        "Records acquired per second during the run",
			ConstLabels: labels,
		}),
		HeapAllocBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "batchfeed_bench_heap_alloc_bytes",
			Help:        "Heap allocation in bytes",
			ConstLabels: labels,
		}),
		HeapInuseBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "batchfeed_bench_heap_inuse_bytes",
			Help:        "Heap in use in bytes",
			ConstLabels: labels,
		}),
		HeapSysBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "batchfeed_bench_heap_sys_bytes",
			Help:        "Heap system in bytes",
			ConstLabels: labels,
		}),
		BatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "batchfeed_bench_batch_size",
			Help:        "Samples per batch",
			ConstLabels: labels,
		}),
		CropSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "batchfeed_bench_crop_size",
			Help:        "Crop size, 0 when samples are kept whole",
			ConstLabels: labels,
		}),
		Parallelization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "batchfeed_bench_parallelization",
			Help:        "Number of concurrent pipelines",
			ConstLabels: labels,
		}),
	}

	registry.MustRegister(
		metrics.MeanLatency,
		metrics.P99Latency,
		metrics.BatchesPerSecond,
		metrics.RecordsPerSecond,
		metrics.HeapAllocBytes,
		metrics.HeapInuseBytes,
		metrics.HeapSysBytes,
		metrics.BatchSize,
		metrics.CropSize,
		metrics.Parallelization,
	)

	return metrics
}

// PushMetricsToPrometheus pushes the run summary, together with the
// pipeline counters gathered during the run, to a Prometheus pushgateway
func PushMetricsToPrometheus(cfg *Config, benchResult *ResultsJSONRun, pipelineMetrics prometheus.Gatherer) error {
	if !cfg.PrometheusConfig.Enabled || cfg.PrometheusConfig.PushURL == "" {
		return nil
	}

	registry := prometheus.NewRegistry()

	// Create labels from the benchmark result
	labels := prometheus.Labels{
		"backend":   benchResult.Backend,
		"phase":     benchResult.Phase,
		"dataset":   benchResult.Dataset,
		"run_id":    benchResult.RunID,
		"timestamp": benchResult.Timestamp,
	}

	// Add custom labels from config
	if cfg.LabelMap != nil {
		for key, value := range cfg.LabelMap {
			labels[key] = value
		}
	}

	// Create metrics
	metrics := NewBenchMetrics(registry, labels)

	// Set metric values
	metrics.MeanLatency.Set(benchResult.Mean)
	metrics.P99Latency.Set(benchResult.P99Latency)
	metrics.BatchesPerSecond.Set(benchResult.BatchesPerSecond)
	metrics.RecordsPerSecond.Set(benchResult.RecordsPerSecond)
	metrics.HeapAllocBytes.Set(benchResult.HeapAllocBytes)
	metrics.HeapInuseBytes.Set(benchResult.HeapInuseBytes)
	metrics.HeapSysBytes.Set(benchResult.HeapSysBytes)
	metrics.BatchSize.Set(float64(benchResult.BatchSize))
	metrics.CropSize.Set(float64(benchResult.CropSize))
	metrics.Parallelization.Set(float64(benchResult.Parallelization))

	// Create a pusher
	pusher := push.New(cfg.PrometheusConfig.PushURL, cfg.PrometheusConfig.JobName).
		Gatherer(registry)

	if pipelineMetrics != nil {
		pusher = pusher.Gatherer(pipelineMetrics)
	}

	// Push metrics
	if err := pusher.Push(); err != nil {
		log.WithError(err).Error("Failed to push metrics to Prometheus")
		return err
	}

	log.WithFields(log.Fields{
		"url":     cfg.PrometheusConfig.PushURL,
		"job":     cfg.PrometheusConfig.JobName,
		"run_id":  benchResult.RunID,
		"dataset": benchResult.Dataset,
	}).Info("Successfully pushed metrics to Prometheus")

	return nil
}

// WriteMetricsTextfile dumps the gathered pipeline counters in the
// Prometheus text format so a textfile collector can pick them up
func WriteMetricsTextfile(path string, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return errors.Wrap(err, "gather pipeline metrics")
	}

	var buf bytes.Buffer
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, family); err != nil {
			return errors.Wrap(err, "encode pipeline metrics")
		}
	}

	return os.WriteFile(path, buf.Bytes(), 0644)
}
