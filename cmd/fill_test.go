package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/batchfeed/batchfeed/backend"
	"github.com/batchfeed/batchfeed/blob"
	"github.com/batchfeed/batchfeed/record"
)

func testFillConfig(backendName, source string) Config {
	return Config{
		Mode:     "fill",
		Backend:  backendName,
		Source:   source,
		Records:  2500,
		Channels: 3,
		Height:   8,
		Width:    8,
		LabelDim: 1,
		Files:    1,
		Workers:  4,
		Seed:     42,
	}
}

// expectedRecords replays the chunked encoding sequentially, which must
// match what the workers wrote in whatever order they ran.
func expectedRecords(cfg Config) ([][]byte, []float64) {
	values := make([][]byte, 0, cfg.Records)
	sums := make([]float64, cfg.Channels*cfg.Height*cfg.Width)

	for start := 0; start < cfg.Records; start += fillChunkSize {
		count := fillChunkSize
		if start+count > cfg.Records {
			count = cfg.Records - start
		}

		chunk, chunkSums := encodeChunk(cfg, start, count)
		values = append(values, chunk...)
		for i, s := range chunkSums {
			sums[i] += s
		}
	}

	return values, sums
}

func TestEncodeChunk(t *testing.T) {
	cfg := testFillConfig("leveldb", "unused")

	first, _ := encodeChunk(cfg, 0, 64)
	again, _ := encodeChunk(cfg, 0, 64)
	require.Equal(t, first, again)

	shifted, _ := encodeChunk(cfg, 64, 64)
	require.NotEqual(t, first[0], shifted[0])

	var d record.Datum
	require.NoError(t, d.Unmarshal(shifted[3]))
	require.Equal(t, cfg.Channels, d.Channels)
	require.Equal(t, cfg.Height, d.Height)
	require.Equal(t, cfg.Width, d.Width)
	require.Equal(t, int32((64+3)%fillLabelClasses), d.Label)
	require.Len(t, d.Data, cfg.Channels*cfg.Height*cfg.Width)
}

func TestEncodeChunkFloatPixels(t *testing.T) {
	cfg := testFillConfig("bolt", "unused")
	cfg.FloatPixels = true

	values, _ := encodeChunk(cfg, 0, 8)

	var d record.Datum
	require.NoError(t, d.Unmarshal(values[0]))
	require.Empty(t, d.Data)
	require.Len(t, d.FloatData, cfg.Channels*cfg.Height*cfg.Width)
	for _, p := range d.FloatData {
		require.GreaterOrEqual(t, p, float32(0))
		require.Less(t, p, float32(255))
	}
}

func TestFillRecordsRoundTrip(t *testing.T) {
	for _, backendName := range []string{"leveldb", "bolt"} {
		t.Run(backendName, func(t *testing.T) {
			dir := t.TempDir()

			cfg := testFillConfig(backendName, filepath.Join(dir, "store"))
			cfg.MeanFile = filepath.Join(dir, "mean.blob")
			require.NoError(t, cfg.Validate())

			require.NoError(t, runFill(cfg))

			expected, sums := expectedRecords(cfg)

			cur, err := backend.Open(backend.Kind(cfg.Backend), cfg.Source)
			require.NoError(t, err)
			defer cur.Close()

			for i := 0; i < cfg.Records; i++ {
				require.Equal(t, expected[i], cur.Value(), "record %d", i)
				cur.Next()
			}

			// the cursor wraps back to the first record
			require.Equal(t, expected[0], cur.Value())

			var d record.Datum
			require.NoError(t, d.Unmarshal(expected[13]))
			require.Equal(t, int32(3), d.Label)

			mean, err := blob.ReadMeanFile(cfg.MeanFile)
			require.NoError(t, err)
			require.Equal(t, 1, mean.N)
			require.Equal(t, cfg.Channels, mean.C)
			require.Equal(t, cfg.Height, mean.H)
			require.Equal(t, cfg.Width, mean.W)

			// worker merge order can wobble the sums by an ulp
			for i := range mean.Data {
				require.InDelta(t, sums[i]/float64(cfg.Records), mean.Data[i], 0.001)
			}
		})
	}
}

func TestRunFillRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "store")
	require.NoError(t, os.WriteFile(source, []byte("keep me"), 0644))

	cfg := testFillConfig("bolt", source)
	err := runFill(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already exists")
}
