package cmd

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/syndtr/goleveldb/leveldb"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"

	"github.com/batchfeed/batchfeed/backend"
	"github.com/batchfeed/batchfeed/blob"
	"github.com/batchfeed/batchfeed/record"
)

const (
	fillChunkSize    = 1024
	fillLabelClasses = 10
)

func initFill() {
	rootCmd.AddCommand(fillCmd)
	fillCmd.PersistentFlags().StringVarP(&globalConfig.Backend,
		"backend", "k", "leveldb", "Backend to fill (leveldb | bolt | hdf5)")
	fillCmd.PersistentFlags().StringVarP(&globalConfig.Source,
		"source", "s", "", "Path to create: a leveldb directory, a bolt file or an hdf5 list file")
	fillCmd.PersistentFlags().IntVarP(&globalConfig.Records,
		"records", "n", 10000, "Set the number of records to generate")
	fillCmd.PersistentFlags().IntVar(&globalConfig.Channels,
		"channels", 3, "Channels per sample")
	fillCmd.PersistentFlags().IntVar(&globalConfig.Height,
		"height", 32, "Sample height")
	fillCmd.PersistentFlags().IntVar(&globalConfig.Width,
		"width", 32, "Sample width")
	fillCmd.PersistentFlags().IntVar(&globalConfig.LabelDim,
		"labelDim", 1, "Label width, 0 writes no labels")
	fillCmd.PersistentFlags().IntVar(&globalConfig.Files,
		"files", 1, "Split hdf5 output across this many files")
	fillCmd.PersistentFlags().IntVarP(&globalConfig.Workers,
		"workers", "w", 8, "Set the number of parallel encode workers")
	fillCmd.PersistentFlags().BoolVar(&globalConfig.FloatPixels,
		"floatData", false, "Store float vectors instead of byte pixels")
	fillCmd.PersistentFlags().StringVarP(&globalConfig.MeanFile,
		"mean", "m", "", "Also write the pixel mean of the store to this path")
	fillCmd.PersistentFlags().Int64Var(&globalConfig.Seed,
		"seed", 0, "Seed for the generated pixels, 0 seeds from the clock")
}

var fillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Generate a synthetic dataset",
	Long:  `Fill a fresh store with deterministic synthetic records to benchmark against`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "fill"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		if cfg.Seed == 0 {
			cfg.Seed = time.Now().UnixNano()
		}

		log.WithFields(log.Fields{"backend": cfg.Backend, "source": cfg.Source,
			"records": cfg.Records, "shape": fmt.Sprintf("(%d, %d, %d)",
				cfg.Channels, cfg.Height, cfg.Width)}).Info("Filling store")

		if err := runFill(cfg); err != nil {
			fatal(err)
		}

		successf("filled %q with %d records", cfg.Source, cfg.Records)
	},
}

func runFill(cfg Config) error {
	if _, err := os.Stat(cfg.Source); err == nil {
		return errors.Errorf("%s already exists, refusing to overwrite it", cfg.Source)
	} else if !os.IsNotExist(err) {
		return err
	}

	if backend.Kind(cfg.Backend) == backend.HDF5 {
		return fillFileSet(cfg)
	}
	return fillRecords(cfg)
}

// fillRecords encodes records on cfg.Workers goroutines, a chunk of
// consecutive keys at a time. Chunks are seeded by their first index,
// so the store content depends on the seed alone, not on scheduling.
func fillRecords(cfg Config) error {
	w, err := openRecordWriter(cfg)
	if err != nil {
		return err
	}

	sums := make([]float64, cfg.Channels*cfg.Height*cfg.Width)
	m := &sync.Mutex{}

	eg := &errgroup.Group{}
	eg.SetLimit(cfg.Workers)

	for start := 0; start < cfg.Records; start += fillChunkSize {
		start := start
		count := fillChunkSize
		if start+count > cfg.Records {
			count = cfg.Records - start
		}

		eg.Go(func() error {
			values, chunkSums := encodeChunk(cfg, start, count)
			if chunkSums != nil {
				m.Lock()
				for i, s := range chunkSums {
					sums[i] += s
				}
				m.Unlock()
			}
			return w.writeChunk(start, values)
		})
	}

	err = eg.Wait()
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	if cfg.MeanFile != "" {
		mean := blob.New(1, cfg.Channels, cfg.Height, cfg.Width)
		for i, s := range sums {
			mean.Data[i] = float32(s / float64(cfg.Records))
		}
		if err := blob.WriteMeanFile(cfg.MeanFile, mean); err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{"records": cfg.Records, "backend": cfg.Backend,
		"source": cfg.Source}).Info("Store filled")
	return nil
}

func encodeChunk(cfg Config, start, count int) ([][]byte, []float64) {
	volume := cfg.Channels * cfg.Height * cfg.Width
	rng := rand.New(rand.NewSource(cfg.Seed + int64(start)))

	values := make([][]byte, count)
	var sums []float64
	if cfg.MeanFile != "" {
		sums = make([]float64, volume)
	}

	d := record.Datum{Channels: cfg.Channels, Height: cfg.Height, Width: cfg.Width}
	if cfg.FloatPixels {
		d.FloatData = make([]float32, volume)
	} else {
		d.Data = make([]byte, volume)
	}

	for i := 0; i < count; i++ {
		d.Label = int32((start + i) % fillLabelClasses)

		if cfg.FloatPixels {
			for j := range d.FloatData {
				d.FloatData[j] = rng.Float32() * 255
				if sums != nil {
					sums[j] += float64(d.FloatData[j])
				}
			}
		} else {
			rng.Read(d.Data)
			if sums != nil {
				for j, p := range d.Data {
					sums[j] += float64(p)
				}
			}
		}

		values[i] = d.Marshal()
	}

	return values, sums
}

type recordWriter interface {
	writeChunk(first int, values [][]byte) error
	Close() error
}

func openRecordWriter(cfg Config) (recordWriter, error) {
	switch backend.Kind(cfg.Backend) {
	case backend.LevelDB:
		db, err := leveldb.OpenFile(cfg.Source, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "create leveldb store %s", cfg.Source)
		}
		return &levelWriter{db: db}, nil

	case backend.Bolt:
		db, err := bolt.Open(cfg.Source, 0o600, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "create bolt store %s", cfg.Source)
		}
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists([]byte(backend.RecordsBucket))
			return err
		})
		if err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "create bucket in %s", cfg.Source)
		}
		return &boltWriter{db: db}, nil
	}

	return nil, errors.Errorf("unrecognized backend %q", cfg.Backend)
}

type levelWriter struct{ db *leveldb.DB }

func (w *levelWriter) writeChunk(first int, values [][]byte) error {
	batch := new(leveldb.Batch)
	for i, value := range values {
		batch.Put(recordKey(first+i), value)
	}
	return w.db.Write(batch, nil)
}

func (w *levelWriter) Close() error { return w.db.Close() }

type boltWriter struct{ db *bolt.DB }

func (w *boltWriter) writeChunk(first int, values [][]byte) error {
	return w.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(backend.RecordsBucket))
		for i, value := range values {
			if err := bucket.Put(recordKey(first+i), value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *boltWriter) Close() error { return w.db.Close() }

// recordKey zero-pads keys so the store iterates in insert order.
func recordKey(i int) []byte {
	return []byte(fmt.Sprintf("%08d", i))
}

// fillFileSet writes the hdf5 files one after another; the C layer
// underneath is not safe to drive from several goroutines.
func fillFileSet(cfg Config) error {
	volume := cfg.Channels * cfg.Height * cfg.Width
	base := strings.TrimSuffix(cfg.Source, filepath.Ext(cfg.Source))
	perFile := (cfg.Records + cfg.Files - 1) / cfg.Files

	rng := rand.New(rand.NewSource(cfg.Seed))
	paths := make([]string, 0, cfg.Files)

	written := 0
	for i := 0; i < cfg.Files && written < cfg.Records; i++ {
		rows := perFile
		if written+rows > cfg.Records {
			rows = cfg.Records - written
		}

		data := make([]float32, rows*volume)
		for j := range data {
			data[j] = rng.Float32() * 255
		}

		var labels []float32
		var labelDims []uint
		if cfg.LabelDim > 0 {
			labels = make([]float32, rows*cfg.LabelDim)
			for r := 0; r < rows; r++ {
				for k := 0; k < cfg.LabelDim; k++ {
					labels[r*cfg.LabelDim+k] = float32((written + r) % fillLabelClasses)
				}
			}
			labelDims = []uint{uint(rows), uint(cfg.LabelDim)}
		}

		path := fmt.Sprintf("%s_%d.h5", base, i)
		dims := []uint{uint(rows), uint(cfg.Channels), uint(cfg.Height), uint(cfg.Width)}
		if err := backend.WriteHDF5(path, dims, data, labelDims, labels); err != nil {
			return err
		}

		paths = append(paths, path)
		written += rows
	}

	list := strings.Join(paths, "\n") + "\n"
	if err := os.WriteFile(cfg.Source, []byte(list), 0o644); err != nil {
		return errors.Wrapf(err, "write file list %s", cfg.Source)
	}

	log.WithFields(log.Fields{"records": written, "files": len(paths),
		"list": cfg.Source}).Info("File set filled")
	return nil
}
