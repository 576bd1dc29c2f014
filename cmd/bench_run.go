package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/batchfeed/batchfeed/blob"
	"github.com/batchfeed/batchfeed/prefetch"
)

// runBench drives cfg.Pipelines pipelines over the same store at once,
// the way one loader per GPU would, and collects the acquire latency of
// every batch. On a seeded run each pipeline gets its own offset seed
// so they do not all draw the same skip and crops.
func runBench(cfg Config, registry *prometheus.Registry) (Results, error) {
	metrics := prefetch.NewMetrics(registry)

	pipes := make([]*prefetch.Pipeline, 0, cfg.Pipelines)
	defer func() {
		for _, p := range pipes {
			p.Close()
		}
	}()

	for i := 0; i < cfg.Pipelines; i++ {
		pcfg := cfg.pipelineConfig()
		pcfg.Metrics = metrics
		if pcfg.Seed != 0 {
			pcfg.Seed += int64(i)
		}

		p, err := prefetch.New(pcfg)
		if err != nil {
			return Results{}, err
		}
		pipes = append(pipes, p)
	}

	ctx := context.Background()
	if cfg.BenchDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.BenchDuration)*time.Second)
		defer cancel()
	}

	var times []time.Duration
	m := &sync.Mutex{}

	eg, ctx := errgroup.WithContext(ctx)

	before := time.Now()
	for _, p := range pipes {
		p := p
		eg.Go(func() error {
			return consume(ctx, cfg, p, m, &times)
		})
	}

	if err := eg.Wait(); err != nil {
		return Results{}, err
	}
	took := time.Since(before)

	if len(times) == 0 {
		return Results{}, errors.Errorf("no batches were acquired within the run window")
	}

	return analyze(cfg, times, took), nil
}

// consume pulls batches from one pipeline until the batch budget or the
// run window is spent. A rate cap waits before each acquire, standing
// in for the compute a real consumer would do between batches.
func consume(ctx context.Context, cfg Config, p *prefetch.Pipeline, m *sync.Mutex, times *[]time.Duration) error {
	var limiter *rate.Limiter
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}

	n, c, h, w := p.BatchShape()
	data := blob.New(n, c, h, w)
	var labels *blob.Blob
	if p.HasLabels() {
		labels = blob.New(n, cfg.LabelDim, 1, 1)
	}

	for i := 0; cfg.Batches <= 0 || i < cfg.Batches; i++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		before := time.Now()
		if err := p.Acquire(ctx, data, labels); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		took := time.Since(before)

		m.Lock()
		*times = append(*times, took)
		m.Unlock()
	}

	return nil
}

var targetPercentiles = []int{50, 90, 95, 98, 99}

type Results struct {
	Min               time.Duration
	Max               time.Duration
	Mean              time.Duration
	Took              time.Duration
	BatchesPerSecond  float64
	RecordsPerSecond  float64
	Percentiles       []time.Duration
	PercentilesLabels []int
	Total             int
	Successful        int
	Failed            int
	Parallelization   int
}

func analyze(cfg Config, times []time.Duration, total time.Duration) Results {
	out := Results{Min: math.MaxInt64, PercentilesLabels: targetPercentiles}
	var sum time.Duration

	for _, time := range times {
		if time < out.Min {
			out.Min = time
		}

		if time > out.Max {
			out.Max = time
		}

		out.Successful++
		sum += time
	}

	out.Total = len(times)
	if cfg.Batches > 0 {
		out.Total = cfg.Batches * cfg.Pipelines
	}
	out.Failed = out.Total - out.Successful
	out.Parallelization = cfg.Pipelines
	out.Mean = sum / time.Duration(len(times))
	out.Took = total
	out.BatchesPerSecond = float64(len(times)) / float64(float64(total)/float64(time.Second))
	out.RecordsPerSecond = out.BatchesPerSecond * float64(cfg.BatchSize)

	sort.Slice(times, func(a, b int) bool {
		return times[a] < times[b]
	})

	percentilePos := func(percentile int) int {
		return int(float64(len(times)*percentile)/100) + 1
	}

	out.Percentiles = make([]time.Duration, len(targetPercentiles))
	for i, percentile := range targetPercentiles {
		pos := percentilePos(percentile)
		if pos >= len(times) {
			pos = len(times) - 1
		}
		out.Percentiles[i] = times[pos]
	}

	return out
}

// percentile returns the measured latency for one of the target
// percentiles, 0 for one that was not measured.
func (r Results) percentile(target int) time.Duration {
	for i, label := range r.PercentilesLabels {
		if label == target {
			return r.Percentiles[i]
		}
	}
	return 0
}

func (r Results) WriteTextTo(w io.Writer) (int64, error) {
	b := strings.Builder{}

	for i, percentile := range targetPercentiles {
		b.WriteString(
			fmt.Sprintf("p%d: %s\n", percentile, r.Percentiles[i]),
		)
	}

	n, err := w.Write([]byte(fmt.Sprintf(
		"Results\nSuccessful: %d\nMin: %s\nMean: %s\n%sTook: %s\nBatches/s: %f\nRecords/s: %f\n",
		r.Successful, r.Min, r.Mean, b.String(), r.Took, r.BatchesPerSecond, r.RecordsPerSecond)))
	return int64(n), err
}

type resultsJSON struct {
	Metadata           resultsJSONMetadata   `json:"metadata"`
	Latencies          map[string]int64      `json:"latencies"`
	LatenciesFormatted map[string]string     `json:"latenciesFormatted"`
	Throughput         resultsJSONThroughput `json:"throughput"`
}

type resultsJSONMetadata struct {
	Successful      int    `json:"successful"`
	Failed          int    `json:"failed"`
	Total           int    `json:"total"`
	Parallelization int    `json:"parallelization"`
	Took            int64  `json:"took"`
	TookFormatted   string `json:"tookFormatted"`
}

type resultsJSONThroughput struct {
	BatchesPerSecond float64 `json:"batchesPerSecond"`
	RecordsPerSecond float64 `json:"recordsPerSecond"`
}

func (r Results) WriteJSONTo(w io.Writer) (int, error) {
	obj := resultsJSON{
		Metadata: resultsJSONMetadata{
			Successful:      r.Successful,
			Total:           r.Total,
			Failed:          r.Failed,
			Parallelization: r.Parallelization,
			Took:            int64(r.Took),
			TookFormatted:   fmt.Sprint(r.Took),
		},
		Latencies: map[string]int64{
			"mean": int64(r.Mean),
			"min":  int64(r.Min),
			"max":  int64(r.Max),
		},
		LatenciesFormatted: map[string]string{
			"mean": fmt.Sprint(r.Mean),
			"min":  fmt.Sprint(r.Min),
			"max":  fmt.Sprint(r.Max),
		},
		Throughput: resultsJSONThroughput{
			BatchesPerSecond: r.BatchesPerSecond,
			RecordsPerSecond: r.RecordsPerSecond,
		},
	}

	for i, percentile := range targetPercentiles {
		obj.Latencies[fmt.Sprintf("p%d", percentile)] = int64(r.Percentiles[i])
		obj.LatenciesFormatted[fmt.Sprintf("p%d", percentile)] = fmt.Sprint(r.Percentiles[i])
	}

	bytes, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return 0, err
	}

	return w.Write(bytes)
}
