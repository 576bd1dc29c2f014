package cmd

import (
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/batchfeed/batchfeed/backend"
	"github.com/batchfeed/batchfeed/prefetch"
)

type Config struct {
	Mode      string
	Backend   string
	Source    string
	BatchSize int
	CropSize  int
	Mirror    bool
	Scale     float64
	LabelDim  int
	RandSkip  int
	MeanFile  string
	Phase     string
	Seed      int64

	Batches       int
	BenchDuration int
	Pipelines     int
	Rate          float64

	OutputFormat string
	OutputFile   string
	Labels       string
	LabelMap     map[string]string

	PrometheusConfig PrometheusConfig
	InfluxDBConfig   InfluxDBConfig

	MemoryMonitoringEnabled  bool
	MemoryMonitoringInterval int
	MemoryMonitoringFile     string

	Records     int
	Channels    int
	Height      int
	Width       int
	Files       int
	Workers     int
	FloatPixels bool

	Limit int

	URL string
}

func (c *Config) Validate() error {
	if err := c.validateCommon(); err != nil {
		return err
	}

	// validate specific
	switch c.Mode {
	case "bench":
		return c.validateBench()
	case "inspect":
		return c.validateInspect()
	case "fill":
		return c.validateFill()
	case "fetch":
		return c.validateFetch()
	default:
		return errors.Errorf("unrecognized mode %q", c.Mode)
	}
}

func (c *Config) validateCommon() error {
	switch c.OutputFormat {
	case "text", "":
		c.OutputFormat = "text"
	case "json":
	default:
		return errors.Errorf("unsupported output format %q, must be one of [text, json]",
			c.OutputFormat)

	}

	influxToken, influxTokenPresent := os.LookupEnv("INFLUX_TOKEN")
	if influxTokenPresent {
		c.InfluxDBConfig.Token = influxToken
	}

	return nil
}

func (c Config) validateStore() error {
	if _, err := backend.ParseKind(c.Backend); err != nil {
		return err
	}

	if c.Source == "" {
		return errors.Errorf("a source must be provided")
	}

	return nil
}

func (c *Config) validateBench() error {
	if err := c.validateStore(); err != nil {
		return err
	}

	if c.Batches <= 0 && c.BenchDuration <= 0 {
		return errors.Errorf("either a batch count or a duration must be set")
	}

	if c.Pipelines < 1 {
		return errors.Errorf("pipelines must be at least 1")
	}

	if c.Rate < 0 {
		return errors.Errorf("rate cannot be negative")
	}

	c.PrometheusConfig.Enabled = c.PrometheusConfig.PushURL != ""
	c.InfluxDBConfig.Enabled = c.InfluxDBConfig.URL != ""

	return nil
}

func (c Config) validateInspect() error {
	if err := c.validateStore(); err != nil {
		return err
	}

	if c.Limit < 0 {
		return errors.Errorf("limit cannot be negative")
	}

	return nil
}

func (c Config) validateFill() error {
	if err := c.validateStore(); err != nil {
		return err
	}

	if c.Records < 1 {
		return errors.Errorf("records must be at least 1")
	}

	if c.Channels < 1 || c.Height < 1 || c.Width < 1 {
		return errors.Errorf("sample dimensions must all be at least 1")
	}

	if c.LabelDim < 0 {
		return errors.Errorf("label width cannot be negative")
	}

	if backend.Kind(c.Backend) != backend.HDF5 && c.LabelDim > 1 {
		return errors.Errorf("record stores hold one label per record")
	}

	if backend.Kind(c.Backend) == backend.HDF5 && c.FloatPixels {
		return errors.Errorf("the hdf5 backend always stores float rows")
	}

	if backend.Kind(c.Backend) == backend.HDF5 && c.MeanFile != "" {
		return errors.Errorf("mean subtraction is not supported on the hdf5 backend")
	}

	if c.Files < 1 {
		return errors.Errorf("files must be at least 1")
	}

	if c.Workers < 1 {
		return errors.Errorf("workers must be at least 1")
	}

	return nil
}

func (c Config) validateFetch() error {
	if c.URL == "" {
		return errors.Errorf("a download url must be provided")
	}

	if c.OutputFile == "" {
		return errors.Errorf("an output file must be provided")
	}

	return nil
}

// pipelineConfig maps the CLI flags onto one pipeline. Deeper
// constraints, like which backends support cropping, are checked by the
// pipeline itself.
func (c Config) pipelineConfig() prefetch.Config {
	return prefetch.Config{
		Backend:   backend.Kind(c.Backend),
		Source:    c.Source,
		BatchSize: c.BatchSize,
		CropSize:  c.CropSize,
		Mirror:    c.Mirror,
		Scale:     float32(c.Scale),
		LabelDim:  c.LabelDim,
		RandSkip:  c.RandSkip,
		MeanFile:  c.MeanFile,
		Phase:     prefetch.Phase(c.Phase),
		Seed:      c.Seed,
	}
}

func (c *Config) parseLabels() {
	result := make(map[string]string)
	pairs := strings.Split(c.Labels, ",")

	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2) // SplitN to make sure we only split on the first "="
		if len(kv) == 2 {
			result[kv[0]] = kv[1]
		}
	}

	c.LabelMap = result
}
