package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFillBenchInspectCommands(t *testing.T) {
	dir := t.TempDir()

	// The bench command drops its run summary under ./results
	wd, err := os.Getwd()
	require.Nil(t, err)
	require.Nil(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	source := filepath.Join(dir, "records.db")

	rootCmd.SetArgs([]string{"fill",
		"--backend=leveldb",
		"--source=" + source,
		"--records=256",
		"--channels=3",
		"--height=8",
		"--width=8",
		"--seed=7"})
	require.Nil(t, rootCmd.Execute())

	benchOut := filepath.Join(dir, "bench.json")

	rootCmd.SetArgs([]string{"bench",
		"--backend=leveldb",
		"--source=" + source,
		"--batchSize=16",
		"--batches=4",
		"--seed=7",
		"--format=json",
		"--output=" + benchOut})
	require.Nil(t, rootCmd.Execute())

	results, err := os.ReadFile(benchOut)
	require.Nil(t, err)
	require.Contains(t, string(results), "batchesPerSecond")

	reportOut := filepath.Join(dir, "report.json")

	rootCmd.SetArgs([]string{"inspect",
		"--backend=leveldb",
		"--source=" + source,
		"--limit=16",
		"--format=json",
		"--output=" + reportOut})
	require.Nil(t, rootCmd.Execute())

	report, err := os.ReadFile(reportOut)
	require.Nil(t, err)
	require.Contains(t, string(report), `"records": 256`)
	require.Contains(t, string(report), `"sample_shape": "(3, 8, 8)"`)

	// The run summary lands under ./results next to the pipeline counters
	entries, err := os.ReadDir("results")
	require.Nil(t, err)
	require.NotEmpty(t, entries)
}
