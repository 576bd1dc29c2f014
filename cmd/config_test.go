package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func benchConfig() Config {
	return Config{
		Mode:      "bench",
		Backend:   "leveldb",
		Source:    "/data/train_db",
		BatchSize: 32,
		Batches:   100,
		Pipelines: 1,
		Phase:     "train",
	}
}

func fillConfig() Config {
	return Config{
		Mode:     "fill",
		Backend:  "leveldb",
		Source:   "/data/train_db",
		Records:  1000,
		Channels: 3,
		Height:   32,
		Width:    32,
		LabelDim: 1,
		Files:    1,
		Workers:  4,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() Config
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid bench", benchConfig, func(c *Config) {}, ""},
		{"valid bench by duration", benchConfig, func(c *Config) { c.Batches = 0; c.BenchDuration = 30 }, ""},
		{"valid bench json", benchConfig, func(c *Config) { c.OutputFormat = "json" }, ""},
		{"unknown mode", benchConfig, func(c *Config) { c.Mode = "serve" }, "unrecognized mode"},
		{"unknown backend", benchConfig, func(c *Config) { c.Backend = "lmdb" }, "unrecognized backend"},
		{"missing source", benchConfig, func(c *Config) { c.Source = "" }, "a source must be provided"},
		{"unknown format", benchConfig, func(c *Config) { c.OutputFormat = "yaml" }, "unsupported output format"},
		{"no batch budget", benchConfig, func(c *Config) { c.Batches = 0 }, "either a batch count or a duration"},
		{"zero pipelines", benchConfig, func(c *Config) { c.Pipelines = 0 }, "pipelines must be at least 1"},
		{"negative rate", benchConfig, func(c *Config) { c.Rate = -1 }, "rate cannot be negative"},

		{"valid inspect", benchConfig, func(c *Config) { c.Mode = "inspect" }, ""},
		{"negative limit", benchConfig, func(c *Config) { c.Mode = "inspect"; c.Limit = -1 }, "limit cannot be negative"},

		{"valid fill", fillConfig, func(c *Config) {}, ""},
		{"valid hdf5 fill", fillConfig, func(c *Config) { c.Backend = "hdf5"; c.LabelDim = 10; c.Files = 3 }, ""},
		{"zero records", fillConfig, func(c *Config) { c.Records = 0 }, "records must be at least 1"},
		{"zero height", fillConfig, func(c *Config) { c.Height = 0 }, "sample dimensions"},
		{"negative label width", fillConfig, func(c *Config) { c.LabelDim = -1 }, "label width cannot be negative"},
		{"wide labels on record store", fillConfig, func(c *Config) { c.LabelDim = 4 }, "one label per record"},
		{"float rows on hdf5", fillConfig, func(c *Config) { c.Backend = "hdf5"; c.FloatPixels = true }, "always stores float rows"},
		{"mean on hdf5", fillConfig, func(c *Config) { c.Backend = "hdf5"; c.MeanFile = "mean.blob" }, "mean subtraction"},
		{"zero files", fillConfig, func(c *Config) { c.Files = 0 }, "files must be at least 1"},
		{"zero workers", fillConfig, func(c *Config) { c.Workers = 0 }, "workers must be at least 1"},

		{"valid fetch", benchConfig, func(c *Config) { c.Mode = "fetch"; c.URL = "http://host/cifar.tar.gz"; c.OutputFile = "cifar.tar.gz" }, ""},
		{"fetch without url", benchConfig, func(c *Config) { c.Mode = "fetch"; c.OutputFile = "cifar.tar.gz" }, "a download url must be provided"},
		{"fetch without output", benchConfig, func(c *Config) { c.Mode = "fetch"; c.URL = "http://host/cifar.tar.gz" }, "an output file must be provided"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := test.config()
			test.mutate(&cfg)

			err := cfg.Validate()
			if test.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), test.wantErr)
		})
	}
}

func TestValidateNormalizesFormat(t *testing.T) {
	cfg := benchConfig()
	cfg.OutputFormat = ""

	require.NoError(t, cfg.Validate())
	require.Equal(t, "text", cfg.OutputFormat)
}

func TestValidateEnablesExporters(t *testing.T) {
	cfg := benchConfig()
	require.NoError(t, cfg.Validate())
	require.False(t, cfg.PrometheusConfig.Enabled)
	require.False(t, cfg.InfluxDBConfig.Enabled)

	cfg = benchConfig()
	cfg.PrometheusConfig.PushURL = "http://localhost:9091"
	cfg.InfluxDBConfig.URL = "http://localhost:8086"
	require.NoError(t, cfg.Validate())
	require.True(t, cfg.PrometheusConfig.Enabled)
	require.True(t, cfg.InfluxDBConfig.Enabled)
}

func TestValidateReadsInfluxToken(t *testing.T) {
	t.Setenv("INFLUX_TOKEN", "secret-token")

	cfg := benchConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "secret-token", cfg.InfluxDBConfig.Token)
}

func TestParseLabels(t *testing.T) {
	cfg := benchConfig()
	cfg.Labels = "run=nightly,gpu=a100,note=crop=16"
	cfg.parseLabels()

	require.Equal(t, map[string]string{
		"run":  "nightly",
		"gpu":  "a100",
		"note": "crop=16",
	}, cfg.LabelMap)

	cfg.Labels = ""
	cfg.parseLabels()
	require.Empty(t, cfg.LabelMap)
}
