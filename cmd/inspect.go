package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/weaviate/hdf5"
	bolt "go.etcd.io/bbolt"

	"github.com/batchfeed/batchfeed/backend"
	"github.com/batchfeed/batchfeed/blob"
	"github.com/batchfeed/batchfeed/record"
)

func initInspect() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.PersistentFlags().StringVarP(&globalConfig.Backend,
		"backend", "k", "leveldb", "Backend holding the dataset (leveldb | bolt | hdf5)")
	inspectCmd.PersistentFlags().StringVarP(&globalConfig.Source,
		"source", "s", "", "Path to the dataset: a leveldb directory, a bolt file or an hdf5 list file")
	inspectCmd.PersistentFlags().IntVar(&globalConfig.Limit,
		"limit", 0, "Decode at most this many records, 0 decodes all of them")
	inspectCmd.PersistentFlags().StringVarP(&globalConfig.MeanFile,
		"mean", "m", "", "Also decode the pixel mean at this path")
	inspectCmd.PersistentFlags().StringVarP(&globalConfig.OutputFormat,
		"format", "f", "text", "Output format, one of [text, json]")
	inspectCmd.PersistentFlags().StringVarP(&globalConfig.OutputFile,
		"output", "o", "", "Filename for an output file. If none provided, output to stdout only")
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize a stored dataset",
	Long:  `Walk a stored dataset and report its record count, sample geometry, label range and size on disk`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "inspect"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		log.WithFields(log.Fields{"backend": cfg.Backend,
			"source": cfg.Source}).Info("Inspecting store")

		report, err := inspectStore(cfg)
		if err != nil {
			fatal(err)
		}

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
			report.WriteJSONTo(w)
		} else if cfg.OutputFormat == "text" {
			report.WriteTextTo(w)
		}

		if cfg.OutputFile != "" {
			infof("report succesfully written to %q", cfg.OutputFile)
		}
	},
}

type storeReport struct {
	Backend       string       `json:"backend"`
	Source        string       `json:"source"`
	Size          string       `json:"size"`
	SizeBytes     int64        `json:"size_bytes"`
	Records       int          `json:"records"`
	Decoded       int          `json:"decoded,omitempty"`
	SampleShape   string       `json:"sample_shape,omitempty"`
	UniformShape  bool         `json:"uniform_shape"`
	BytePayloads  int          `json:"byte_payloads,omitempty"`
	FloatPayloads int          `json:"float_payloads,omitempty"`
	LabelMin      int          `json:"label_min"`
	LabelMax      int          `json:"label_max"`
	LabelDim      int          `json:"label_dim,omitempty"`
	Files         []fileReport `json:"files,omitempty"`
	MeanShape     string       `json:"mean_shape,omitempty"`
}

type fileReport struct {
	Path string `json:"path"`
	Rows int    `json:"rows"`
	Size string `json:"size"`
}

func inspectStore(cfg Config) (*storeReport, error) {
	report := &storeReport{Backend: cfg.Backend, Source: cfg.Source}

	var err error
	switch backend.Kind(cfg.Backend) {
	case backend.LevelDB:
		err = report.scanLevelDB(cfg)
	case backend.Bolt:
		err = report.scanBolt(cfg)
	case backend.HDF5:
		err = report.scanFileSet(cfg)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MeanFile != "" {
		mean, err := blob.ReadMeanFile(cfg.MeanFile)
		if err != nil {
			return nil, err
		}
		report.MeanShape = mean.String()
	}

	return report, nil
}

// visitRecord counts one record and, while under the decode limit,
// folds its geometry and label into the report.
func (r *storeReport) visitRecord(value []byte, limit int) error {
	r.Records++
	if limit > 0 && r.Decoded >= limit {
		return nil
	}

	var d record.Datum
	if err := d.Unmarshal(value); err != nil {
		return errors.Wrapf(err, "decode record %d", r.Records-1)
	}
	r.Decoded++

	shape := fmt.Sprintf("(%d, %d, %d)", d.Channels, d.Height, d.Width)
	if r.SampleShape == "" {
		r.SampleShape = shape
		r.UniformShape = true
	} else if shape != r.SampleShape {
		r.UniformShape = false
	}

	if len(d.Data) > 0 {
		r.BytePayloads++
	} else if len(d.FloatData) > 0 {
		r.FloatPayloads++
	}

	if r.Decoded == 1 || int(d.Label) < r.LabelMin {
		r.LabelMin = int(d.Label)
	}
	if r.Decoded == 1 || int(d.Label) > r.LabelMax {
		r.LabelMax = int(d.Label)
	}

	return nil
}

// scanLevelDB walks the store below the cursor abstraction; the cursor
// wraps at the end and so can never finish a count.
func (r *storeReport) scanLevelDB(cfg Config) error {
	db, err := leveldb.OpenFile(cfg.Source, &opt.Options{
		ErrorIfMissing:         true,
		OpenFilesCacheCapacity: 100,
		ReadOnly:               true,
	})
	if err != nil {
		return errors.Wrapf(err, "open leveldb store %s", cfg.Source)
	}
	defer db.Close()

	it := db.NewIterator(nil, nil)
	defer it.Release()

	for it.Next() {
		if err := r.visitRecord(it.Value(), cfg.Limit); err != nil {
			return err
		}
	}
	if err := it.Error(); err != nil {
		return errors.Wrapf(err, "iterate leveldb store %s", cfg.Source)
	}

	return r.measureDir(cfg.Source)
}

func (r *storeReport) scanBolt(cfg Config) error {
	db, err := bolt.Open(cfg.Source, 0o600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return errors.Wrapf(err, "open bolt store %s", cfg.Source)
	}
	defer db.Close()

	err = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(backend.RecordsBucket))
		if bucket == nil {
			return errors.Errorf("bolt store %s has no %q bucket", cfg.Source, backend.RecordsBucket)
		}
		return bucket.ForEach(func(k, v []byte) error {
			return r.visitRecord(v, cfg.Limit)
		})
	})
	if err != nil {
		return err
	}

	return r.measureFile(cfg.Source)
}

func (r *storeReport) scanFileSet(cfg Config) error {
	files, err := backend.OpenFileSet(cfg.Source, true)
	if err != nil {
		// a set without a label dataset is still worth a summary
		files, err = backend.OpenFileSet(cfg.Source, false)
		if err != nil {
			return err
		}
	}
	defer files.Close()

	c, h, w := files.SampleShape()
	r.SampleShape = fmt.Sprintf("(%d, %d, %d)", c, h, w)
	r.UniformShape = true
	r.LabelDim = files.LabelDim()

	firstSample := ""
	for _, path := range files.Files() {
		rows, sample, err := hdf5Extent(path)
		if err != nil {
			return err
		}
		if firstSample == "" {
			firstSample = fmt.Sprint(sample)
		} else if fmt.Sprint(sample) != firstSample {
			r.UniformShape = false
		}
		r.Records += rows

		info, err := os.Stat(path)
		if err != nil {
			return errors.Wrapf(err, "measure %s", path)
		}
		r.SizeBytes += info.Size()
		r.Files = append(r.Files, fileReport{
			Path: path,
			Rows: rows,
			Size: humanize.IBytes(uint64(info.Size())),
		})
	}

	r.Size = humanize.IBytes(uint64(r.SizeBytes))
	return nil
}

func hdf5Extent(path string) (rows int, sample []uint, err error) {
	file, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()

	dset, err := file.OpenDataset(backend.DataDataset)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "open dataset %q in %s", backend.DataDataset, path)
	}
	defer dset.Close()

	dims, _, err := dset.Space().SimpleExtentDims()
	if err != nil {
		return 0, nil, errors.Wrapf(err, "read extent of %q in %s", backend.DataDataset, path)
	}

	return int(dims[0]), dims[1:], nil
}

func (r *storeReport) measureDir(path string) error {
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			r.SizeBytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "measure %s", path)
	}

	r.Size = humanize.IBytes(uint64(r.SizeBytes))
	return nil
}

func (r *storeReport) measureFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "measure %s", path)
	}

	r.SizeBytes = info.Size()
	r.Size = humanize.IBytes(uint64(r.SizeBytes))
	return nil
}

func (r storeReport) WriteTextTo(w io.Writer) (int64, error) {
	b := strings.Builder{}

	b.WriteString(fmt.Sprintf("Store\nBackend: %s\nSource: %s\nSize: %s\nRecords: %d\n",
		r.Backend, r.Source, r.Size, r.Records))

	if r.SampleShape != "" {
		b.WriteString(fmt.Sprintf("Sample shape: %s\n", r.SampleShape))
		if !r.UniformShape {
			b.WriteString("Sample shapes vary across the store\n")
		}
	}

	if r.LabelDim > 0 {
		b.WriteString(fmt.Sprintf("Label width: %d\n", r.LabelDim))
	}

	if r.Decoded > 0 {
		b.WriteString(fmt.Sprintf("Decoded: %d\nPayloads: %d byte, %d float\nLabels: %d to %d\n",
			r.Decoded, r.BytePayloads, r.FloatPayloads, r.LabelMin, r.LabelMax))
	}

	for _, f := range r.Files {
		b.WriteString(fmt.Sprintf("%s: %d rows, %s\n", f.Path, f.Rows, f.Size))
	}

	if r.MeanShape != "" {
		b.WriteString(fmt.Sprintf("Mean shape: %s\n", r.MeanShape))
	}

	n, err := w.Write([]byte(b.String()))
	return int64(n), err
}

func (r storeReport) WriteJSONTo(w io.Writer) (int, error) {
	bytes, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return 0, err
	}

	return w.Write(bytes)
}
