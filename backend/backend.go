// Package backend provides read-only access to stored datasets through
// a uniform record cursor.
package backend

import "github.com/pkg/errors"

// Kind selects a dataset backend.
type Kind string

const (
	// LevelDB is a sorted key/value directory holding one encoded record
	// per key.
	LevelDB Kind = "leveldb"
	// Bolt is a single-file B+tree with the records in one bucket.
	Bolt Kind = "bolt"
	// HDF5 is an ordered list of HDF5 files read row-wise. It is not a
	// record store and has no cursor; see FileSet.
	HDF5 Kind = "hdf5"
)

// ParseKind maps a backend name to its Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case LevelDB, Bolt, HDF5:
		return Kind(s), nil
	}
	return "", errors.Errorf("unrecognized backend %q, must be one of [%s, %s, %s]",
		s, LevelDB, Bolt, HDF5)
}

// Cursor walks the records of a store in key order. Next wraps back to
// the first record after the last one, so a cursor is never exhausted.
type Cursor interface {
	// Value returns the current record, valid until the next Next or
	// Skip. Callers that keep it longer must copy.
	Value() []byte
	// Next advances to the following record, wrapping at the end.
	Next()
	// Skip advances n records.
	Skip(n int)
	// Close releases the cursor together with its store.
	Close() error
}

// Open opens the record cursor of a store, positioned on its first
// record. The store must exist and hold at least one record.
func Open(kind Kind, source string) (Cursor, error) {
	switch kind {
	case LevelDB:
		return openLevelDB(source)
	case Bolt:
		return openBolt(source)
	case HDF5:
		return nil, errors.Errorf("the %s backend is row-oriented and has no record cursor", HDF5)
	}
	return nil, errors.Errorf("unrecognized backend %q", kind)
}
