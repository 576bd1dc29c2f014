package cmd

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAnalyzer(t *testing.T) {
	c := Config{
		Mode:      "bench",
		Backend:   "leveldb",
		Source:    "/data/train_db",
		BatchSize: 32,
		Batches:   10,
		Pipelines: 1,
	}

	durations := []time.Duration{
		time.Second * 5,
		time.Second * 3,
		time.Second * 0,
		time.Second * 1,
		time.Second * 2,
		time.Second * 4,
		time.Second * 6,
	}

	totalTime := time.Second * 21

	t.Run("check analyze accuracy", func(t *testing.T) {
		results := analyze(c, durations, totalTime)

		require.Equal(t, 10, results.Total)
		require.Equal(t, 7, results.Successful)
		require.Equal(t, 3, results.Failed)
		require.Equal(t, time.Second*6, results.Max)
		require.Equal(t, time.Second*0, results.Min)
		require.Equal(t, time.Second*3, results.Mean)
		require.Equal(t, time.Second*21, results.Took)
		require.Equal(t, 1, results.Parallelization)
		require.Equal(t, 7.0/21.0, results.BatchesPerSecond)
		require.Equal(t, 7.0/21.0*32, results.RecordsPerSecond)

		require.Equal(t, time.Second*4, results.percentile(50))
		require.Equal(t, time.Second*6, results.percentile(99))
		require.Equal(t, time.Duration(0), results.percentile(42))
	})

	t.Run("total counts every pipeline's budget", func(t *testing.T) {
		parallel := c
		parallel.Pipelines = 4

		results := analyze(parallel, durations, totalTime)

		require.Equal(t, 40, results.Total)
		require.Equal(t, 33, results.Failed)
		require.Equal(t, 4, results.Parallelization)
	})

	t.Run("timed runs count what was measured", func(t *testing.T) {
		timed := c
		timed.Batches = 0
		timed.BenchDuration = 21

		results := analyze(timed, durations, totalTime)

		require.Equal(t, 7, results.Total)
		require.Equal(t, 0, results.Failed)
	})
}

func TestResultsWriters(t *testing.T) {
	c := Config{BatchSize: 16, Batches: 4, Pipelines: 1}

	times := []time.Duration{
		time.Millisecond * 10,
		time.Millisecond * 20,
		time.Millisecond * 30,
		time.Millisecond * 40,
	}

	results := analyze(c, times, time.Millisecond*100)

	t.Run("text", func(t *testing.T) {
		var out bytes.Buffer
		_, err := results.WriteTextTo(&out)
		require.NoError(t, err)

		require.Contains(t, out.String(), "Successful: 4")
		require.Contains(t, out.String(), "Mean: 25ms")
		require.Contains(t, out.String(), "p99: 40ms")
	})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		_, err := results.WriteJSONTo(&out)
		require.NoError(t, err)

		var parsed resultsJSON
		require.NoError(t, json.Unmarshal(out.Bytes(), &parsed))

		require.Equal(t, 4, parsed.Metadata.Successful)
		require.Equal(t, int64(time.Millisecond*25), parsed.Latencies["mean"])
		require.Equal(t, int64(time.Millisecond*40), parsed.Latencies["max"])
		require.Equal(t, 40.0, parsed.Throughput.BatchesPerSecond)
		require.Equal(t, 640.0, parsed.Throughput.RecordsPerSecond)
	})
}
