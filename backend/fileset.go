package backend

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/weaviate/hdf5"
)

// Dataset names inside every file of a file set.
const (
	DataDataset  = "data"
	LabelDataset = "label"
)

// FileSet reads whole rows round-robin across an ordered list of HDF5
// files, each holding a row-indexed "data" dataset and, when labels are
// wanted, a "label" dataset with the same row count. Row order inside a
// file and file order in the list are both preserved; after the last
// row of the last file reading continues at the first file.
type FileSet struct {
	listPath   string
	paths      []string
	withLabels bool

	idx int // current file
	row int // next unread row

	file  *hdf5.File
	data  *hdf5.Dataset
	label *hdf5.Dataset

	rows        int
	sampleDims  []uint // data dims past the row axis
	labelSample []uint // label dims past the row axis
	labelDim    int

	dataByteSize  uint
	labelByteSize uint
}

// OpenFileSet reads the whitespace-separated list of HDF5 paths at
// listPath and opens the first file.
func OpenFileSet(listPath string, withLabels bool) (*FileSet, error) {
	raw, err := os.ReadFile(listPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read file list %s", listPath)
	}
	paths := strings.Fields(string(raw))
	if len(paths) == 0 {
		return nil, errors.Errorf("file list %s names no files", listPath)
	}

	log.WithFields(log.Fields{"list": listPath, "files": len(paths)}).Info("Opening HDF5 file set")

	fs := &FileSet{listPath: listPath, paths: paths, withLabels: withLabels}
	if err := fs.openCurrent(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileSet) openCurrent() error {
	path := fs.paths[fs.idx]

	file, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	fs.file = file

	fs.data, err = file.OpenDataset(DataDataset)
	if err != nil {
		fs.closeCurrent()
		return errors.Wrapf(err, "open dataset %q in %s", DataDataset, path)
	}

	dims, _, err := fs.data.Space().SimpleExtentDims()
	if err != nil {
		fs.closeCurrent()
		return errors.Wrapf(err, "read extent of %q in %s", DataDataset, path)
	}
	if len(dims) < 2 || len(dims) > 4 {
		fs.closeCurrent()
		return errors.Errorf("dataset %q in %s has rank %d, want 2 to 4", DataDataset, path, len(dims))
	}
	if dims[0] == 0 {
		fs.closeCurrent()
		return errors.Errorf("%s holds no rows", path)
	}
	for _, d := range dims[1:] {
		if d == 0 {
			fs.closeCurrent()
			return errors.Errorf("dataset %q in %s has a zero-length axis: %v", DataDataset, path, dims)
		}
	}
	if fs.sampleDims == nil {
		fs.sampleDims = dims[1:]
	} else if !dimsEqual(fs.sampleDims, dims[1:]) {
		fs.closeCurrent()
		return errors.Errorf("%s holds rows of shape %v, the set started with %v", path, dims[1:], fs.sampleDims)
	}
	fs.rows = int(dims[0])

	fs.dataByteSize, err = datasetByteSize(fs.data)
	if err != nil {
		fs.closeCurrent()
		return errors.Wrapf(err, "dataset %q in %s", DataDataset, path)
	}

	if !fs.withLabels {
		return nil
	}

	fs.label, err = file.OpenDataset(LabelDataset)
	if err != nil {
		fs.closeCurrent()
		return errors.Wrapf(err, "open dataset %q in %s", LabelDataset, path)
	}

	ldims, _, err := fs.label.Space().SimpleExtentDims()
	if err != nil {
		fs.closeCurrent()
		return errors.Wrapf(err, "read extent of %q in %s", LabelDataset, path)
	}
	if len(ldims) != 1 && len(ldims) != 2 {
		fs.closeCurrent()
		return errors.Errorf("dataset %q in %s has rank %d, want 1 or 2", LabelDataset, path, len(ldims))
	}
	if int(ldims[0]) != fs.rows {
		fs.closeCurrent()
		return errors.Errorf("%s holds %d data rows but %d label rows", path, fs.rows, ldims[0])
	}
	labelDim := 1
	if len(ldims) == 2 {
		labelDim = int(ldims[1])
	}
	if labelDim < 1 {
		fs.closeCurrent()
		return errors.Errorf("dataset %q in %s has a zero-length axis: %v", LabelDataset, path, ldims)
	}
	if fs.labelDim == 0 {
		fs.labelDim = labelDim
		fs.labelSample = ldims[1:]
	} else if labelDim != fs.labelDim || !dimsEqual(ldims[1:], fs.labelSample) {
		fs.closeCurrent()
		return errors.Errorf("%s holds %d-wide labels, the set started with %d", path, labelDim, fs.labelDim)
	}

	fs.labelByteSize, err = datasetByteSize(fs.label)
	if err != nil {
		fs.closeCurrent()
		return errors.Wrapf(err, "dataset %q in %s", LabelDataset, path)
	}

	return nil
}

func (fs *FileSet) closeCurrent() error {
	var err error
	if fs.label != nil {
		err = fs.label.Close()
		fs.label = nil
	}
	if fs.data != nil {
		if cerr := fs.data.Close(); err == nil {
			err = cerr
		}
		fs.data = nil
	}
	if fs.file != nil {
		if cerr := fs.file.Close(); err == nil {
			err = cerr
		}
		fs.file = nil
	}
	return err
}

// advance moves to the next file, wrapping past the last one.
func (fs *FileSet) advance() error {
	fs.closeCurrent()
	fs.idx = (fs.idx + 1) % len(fs.paths)
	fs.row = 0
	return fs.openCurrent()
}

// SampleShape reports the per-row geometry as channels, height, width.
// Rank-2 files hold flat vectors, rank-3 planes, rank-4 full volumes;
// missing trailing axes read as 1.
func (fs *FileSet) SampleShape() (c, h, w int) {
	c, h, w = 1, 1, 1
	switch len(fs.sampleDims) {
	case 1:
		c = int(fs.sampleDims[0])
	case 2:
		c, h = int(fs.sampleDims[0]), int(fs.sampleDims[1])
	case 3:
		c, h, w = int(fs.sampleDims[0]), int(fs.sampleDims[1]), int(fs.sampleDims[2])
	}
	return c, h, w
}

// SampleSize is the element count of one row of the data dataset.
func (fs *FileSet) SampleSize() int {
	size := 1
	for _, d := range fs.sampleDims {
		size *= int(d)
	}
	return size
}

// LabelDim is the element count of one label row, 0 when the set was
// opened without labels.
func (fs *FileSet) LabelDim() int { return fs.labelDim }

// Rows reports the row count of the current file.
func (fs *FileSet) Rows() int { return fs.rows }

// Files reports the paths making up the set.
func (fs *FileSet) Files() []string { return fs.paths }

// ReadRows copies up to max rows into data and, when the set has them,
// labels, returning how many rows were read. A read that cannot fill
// max rows exhausts the current file: the set moves on to the next one,
// wrapping after the last, and the following call continues there.
// Otherwise the row position advances by the count read.
func (fs *FileSet) ReadRows(max int, data, labels []float32) (int, error) {
	count := fs.rows - fs.row
	if count > max {
		count = max
	}

	if count > 0 {
		err := readSubset(fs.data, fs.dataByteSize, fs.row, count, fs.sampleDims, data[:count*fs.SampleSize()])
		if err != nil {
			return 0, errors.Wrapf(err, "read %q rows [%d, %d) of %s",
				DataDataset, fs.row, fs.row+count, fs.paths[fs.idx])
		}
		if fs.withLabels {
			err := readSubset(fs.label, fs.labelByteSize, fs.row, count, fs.labelSample, labels[:count*fs.labelDim])
			if err != nil {
				return 0, errors.Wrapf(err, "read %q rows [%d, %d) of %s",
					LabelDataset, fs.row, fs.row+count, fs.paths[fs.idx])
			}
		}
	}

	if count < max {
		// current file exhausted
		if err := fs.advance(); err != nil {
			return count, err
		}
	} else {
		fs.row += count
	}
	return count, nil
}

// Close releases the open datasets before the file itself.
func (fs *FileSet) Close() error {
	return fs.closeCurrent()
}

// readSubset pulls a hyperslab of whole rows into dst, converting from
// float64 storage when needed.
func readSubset(dset *hdf5.Dataset, byteSize uint, row, count int, sampleDims []uint, dst []float32) error {
	rank := len(sampleDims) + 1
	offset := make([]uint, rank)
	extent := make([]uint, rank)
	offset[0] = uint(row)
	extent[0] = uint(count)
	for i, d := range sampleDims {
		extent[i+1] = d
	}

	filespace := dset.Space()
	defer filespace.Close()
	if err := filespace.SelectHyperslab(offset, nil, extent, nil); err != nil {
		return errors.Wrap(err, "select hyperslab")
	}

	memspace, err := hdf5.CreateSimpleDataspace(extent, nil)
	if err != nil {
		return errors.Wrap(err, "create memspace")
	}
	defer memspace.Close()

	if byteSize == 4 {
		return dset.ReadSubset(&dst, memspace, filespace)
	}

	wide := make([]float64, len(dst))
	if err := dset.ReadSubset(&wide, memspace, filespace); err != nil {
		return err
	}
	for i, v := range wide {
		dst[i] = float32(v)
	}
	return nil
}

func datasetByteSize(dset *hdf5.Dataset) (uint, error) {
	dtype, err := dset.Datatype()
	if err != nil {
		return 0, errors.Wrap(err, "read datatype")
	}
	size := dtype.Size()
	if size != 4 && size != 8 {
		return 0, errors.Errorf("unsupported element width of %d bytes", size)
	}
	return size, nil
}

func dimsEqual(a, b []uint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// WriteHDF5 materializes one float32 HDF5 file with a "data" dataset of
// shape dataDims and, when labels is non-nil, a "label" dataset of
// shape labelDims. Used to build synthetic datasets.
func WriteHDF5(path string, dataDims []uint, data []float32, labelDims []uint, labels []float32) error {
	file, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer file.Close()

	if err := writeDataset(file, DataDataset, dataDims, data); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	if labels != nil {
		if err := writeDataset(file, LabelDataset, labelDims, labels); err != nil {
			return errors.Wrapf(err, "write %s", path)
		}
	}
	return nil
}

func writeDataset(file *hdf5.File, name string, dims []uint, values []float32) error {
	space, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return errors.Wrapf(err, "create dataspace for %q", name)
	}
	defer space.Close()

	dset, err := file.CreateDataset(name, hdf5.T_NATIVE_FLOAT, space)
	if err != nil {
		return errors.Wrapf(err, "create dataset %q", name)
	}
	defer dset.Close()

	if err := dset.Write(&values); err != nil {
		return errors.Wrapf(err, "write dataset %q", name)
	}
	return nil
}
