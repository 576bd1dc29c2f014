package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Flat run summary, one object per run, for the results directory and
// the metric exporters.
type ResultsJSONRun struct {
	Backend          string  `json:"backend"`
	Phase            string  `json:"phase"`
	BatchSize        int     `json:"batch_size"`
	CropSize         int     `json:"crop_size"`
	Parallelization  int     `json:"parallelization"`
	Mean             float64 `json:"mean"`
	P99Latency       float64 `json:"p99_latency"`
	BatchesPerSecond float64 `json:"bps"`
	RecordsPerSecond float64 `json:"rps"`
	HeapAllocBytes   float64 `json:"heap_alloc_bytes"`
	HeapInuseBytes   float64 `json:"heap_inuse_bytes"`
	HeapSysBytes     float64 `json:"heap_sys_bytes"`
	RunID            string  `json:"run_id"`
	Dataset          string  `json:"dataset_file"`
	Timestamp        string  `json:"timestamp"`
}

func initBench() {
	rootCmd.AddCommand(benchCommand)
	benchCommand.PersistentFlags().StringVarP(&globalConfig.Backend,
		"backend", "k", "leveldb", "Backend holding the dataset (leveldb | bolt | hdf5)")
	benchCommand.PersistentFlags().StringVarP(&globalConfig.Source,
		"source", "s", "", "Path to the dataset: a leveldb directory, a bolt file or an hdf5 list file")
	benchCommand.PersistentFlags().IntVarP(&globalConfig.BatchSize,
		"batchSize", "b", 32, "Set the number of samples per batch")
	benchCommand.PersistentFlags().IntVarP(&globalConfig.Batches,
		"batches", "n", 100, "Set the number of batches each pipeline should pull")
	benchCommand.PersistentFlags().IntVar(&globalConfig.BenchDuration,
		"duration", 0, "Instead of a fixed number of batches, pull for the specified duration in seconds (default 0)")
	benchCommand.PersistentFlags().IntVarP(&globalConfig.Pipelines,
		"pipelines", "p", 1, "Set the number of parallel pipelines, each with its own cursor")
	benchCommand.PersistentFlags().Float64VarP(&globalConfig.Rate,
		"rate", "r", 0, "Cap the batches per second each pipeline consumes, 0 is unlimited")
	benchCommand.PersistentFlags().IntVarP(&globalConfig.CropSize,
		"crop", "c", 0, "Crop size, 0 keeps samples whole")
	benchCommand.PersistentFlags().BoolVar(&globalConfig.Mirror,
		"mirror", false, "Mirror cropped samples on a coin toss while training")
	benchCommand.PersistentFlags().Float64Var(&globalConfig.Scale,
		"scale", 1, "Scale applied to every mean-subtracted value")
	benchCommand.PersistentFlags().IntVar(&globalConfig.LabelDim,
		"labelDim", 1, "Label width, 0 turns labels off")
	benchCommand.PersistentFlags().IntVar(&globalConfig.RandSkip,
		"randSkip", 0, "Skip up to this many records before the first batch")
	benchCommand.PersistentFlags().StringVarP(&globalConfig.MeanFile,
		"mean", "m", "", "Path to a serialized pixel mean to subtract")
	benchCommand.PersistentFlags().StringVar(&globalConfig.Phase,
		"phase", "train", "Phase to run in (train | eval)")
	benchCommand.PersistentFlags().Int64Var(&globalConfig.Seed,
		"seed", 0, "Seed for the skip, crop and mirror draws, 0 seeds from the clock")
	benchCommand.PersistentFlags().StringVarP(&globalConfig.OutputFormat,
		"format", "f", "text", "Output format, one of [text, json]")
	benchCommand.PersistentFlags().StringVarP(&globalConfig.OutputFile,
		"output", "o", "", "Filename for an output file. If none provided, output to stdout only")
	benchCommand.PersistentFlags().StringVarP(&globalConfig.Labels,
		"labels", "l", "", "Labels of format key1=value1,key2=value2,...")
	benchCommand.PersistentFlags().StringVar(&globalConfig.PrometheusConfig.PushURL,
		"pushgateway", "", "Prometheus pushgateway to push the run summary to")
	benchCommand.PersistentFlags().StringVar(&globalConfig.PrometheusConfig.JobName,
		"pushgatewayJob", "batchfeed", "Job name for pushed metrics")
	benchCommand.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.URL,
		"influxUrl", "", "InfluxDB instance to push the run summary to")
	benchCommand.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.Org,
		"influxOrg", "batchfeed", "InfluxDB organization")
	benchCommand.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.Bucket,
		"influxBucket", "benchmarks", "InfluxDB bucket")
	benchCommand.PersistentFlags().BoolVar(&globalConfig.MemoryMonitoringEnabled,
		"monitorMemory", false, "Sample heap usage during the run")
	benchCommand.PersistentFlags().IntVar(&globalConfig.MemoryMonitoringInterval,
		"monitorInterval", 5, "Seconds between heap samples")
	benchCommand.PersistentFlags().StringVar(&globalConfig.MemoryMonitoringFile,
		"monitorFile", "", "Filename for heap samples under ./results")
}

var benchCommand = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark batch production from a stored dataset",
	Long:  `Pull batches through one or more prefetch pipelines and report latency percentiles and throughput`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "bench"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		cfg.parseLabels()

		runID := strconv.FormatInt(time.Now().Unix(), 10)

		log.WithFields(log.Fields{"backend": cfg.Backend, "source": cfg.Source,
			"batchSize": cfg.BatchSize, "pipelines": cfg.Pipelines,
			"phase": cfg.Phase}).Info("Starting benchmark")

		monitor := NewMemoryMonitor(&cfg)
		monitor.Start()

		registry := prometheus.NewRegistry()

		result, err := runBench(cfg, registry)
		if err != nil {
			fatal(err)
		}

		monitor.Stop()

		log.WithFields(log.Fields{"mean": result.Mean, "bps": result.BatchesPerSecond,
			"rps": result.RecordsPerSecond, "count": result.Total,
			"parallel": result.Parallelization}).Info("Benchmark result")

		var w io.Writer
		if cfg.OutputFile == "" {
			w = os.Stdout
		} else {
			f, err := os.Create(cfg.OutputFile)
			if err != nil {
				fatal(err)
			}

			defer f.Close()
			w = f

		}

		if cfg.OutputFormat == "json" {
			result.WriteJSONTo(w)
		} else if cfg.OutputFormat == "text" {
			result.WriteTextTo(w)
		}

		if cfg.OutputFile != "" {
			infof("results succesfully written to %q", cfg.OutputFile)
		}

		summary := newRunSummary(cfg, result, monitor, runID)

		var resultMap map[string]interface{}

		jsonData, err := json.Marshal(summary)
		if err != nil {
			log.Fatalf("Error converting result to json")
		}

		if err := json.Unmarshal(jsonData, &resultMap); err != nil {
			log.Fatalf("Error converting json to map")
		}

		if cfg.LabelMap != nil {
			for key, value := range cfg.LabelMap {
				resultMap[key] = value
			}
		}

		data, err := json.MarshalIndent([]map[string]interface{}{resultMap}, "", "    ")
		if err != nil {
			log.Fatalf("Error marshaling benchmark results: %v", err)
		}

		os.Mkdir("./results", 0755)

		if err := os.WriteFile(fmt.Sprintf("./results/%s.json", runID), data, 0644); err != nil {
			log.Fatalf("Error writing benchmark results to file: %v", err)
		}

		if err := WriteMetricsTextfile(fmt.Sprintf("./results/%s.prom", runID), registry); err != nil {
			log.WithError(err).Warn("Continuing without pipeline metrics textfile")
		}

		if err := PushMetricsToPrometheus(&cfg, summary, registry); err != nil {
			log.WithError(err).Warn("Continuing without pushgateway export")
		}

		if err := PushMetricsToInfluxDB(&cfg, summary); err != nil {
			log.WithError(err).Warn("Continuing without InfluxDB export")
		}
	},
}

func newRunSummary(cfg Config, result Results, monitor *MemoryMonitor, runID string) *ResultsJSONRun {
	summary := &ResultsJSONRun{
		Backend:          cfg.Backend,
		Phase:            cfg.Phase,
		BatchSize:        cfg.BatchSize,
		CropSize:         cfg.CropSize,
		Parallelization:  result.Parallelization,
		Mean:             result.Mean.Seconds(),
		P99Latency:       result.percentile(99).Seconds(),
		BatchesPerSecond: result.BatchesPerSecond,
		RecordsPerSecond: result.RecordsPerSecond,
		RunID:            runID,
		Dataset:          filepath.Base(cfg.Source),
		Timestamp:        time.Now().Format(time.RFC3339),
	}

	if entries := monitor.GetMetrics(); len(entries) > 0 {
		last := entries[len(entries)-1]
		summary.HeapAllocBytes = last.HeapAllocBytes
		summary.HeapInuseBytes = last.HeapInuseBytes
		summary.HeapSysBytes = last.HeapSysBytes
	}

	return summary
}
