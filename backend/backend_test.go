package backend

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	bolt "go.etcd.io/bbolt"
)

func writeLevelDBFixture(t *testing.T, records [][]byte) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "store")
	db, err := leveldb.OpenFile(dir, nil)
	require.NoError(t, err)
	for i, rec := range records {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("%08d", i)), rec, nil))
	}
	require.NoError(t, db.Close())
	return dir
}

func writeBoltFixture(t *testing.T, records [][]byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "store.db")
	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucket([]byte(RecordsBucket))
		if err != nil {
			return err
		}
		for i, rec := range records {
			if err := b.Put([]byte(fmt.Sprintf("%08d", i)), rec); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())
	return path
}

// fixtures maps every record-store kind to its on-disk writer.
var fixtures = map[Kind]func(t *testing.T, records [][]byte) string{
	LevelDB: writeLevelDBFixture,
	Bolt:    writeBoltFixture,
}

func TestParseKind(t *testing.T) {
	for _, valid := range []string{"leveldb", "bolt", "hdf5"} {
		kind, err := ParseKind(valid)
		require.NoError(t, err)
		require.Equal(t, Kind(valid), kind)
	}

	for _, invalid := range []string{"", "lmdb", "LevelDB", "rocksdb"} {
		_, err := ParseKind(invalid)
		require.Error(t, err)
	}
}

func TestCursorWrapsAround(t *testing.T) {
	records := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}

	for kind, write := range fixtures {
		t.Run(string(kind), func(t *testing.T) {
			cur, err := Open(kind, write(t, records))
			require.NoError(t, err)
			defer cur.Close()

			var got []string
			for i := 0; i < 7; i++ {
				got = append(got, string(cur.Value()))
				cur.Next()
			}

			require.Equal(t, []string{"alpha", "beta", "gamma", "alpha", "beta", "gamma", "alpha"}, got)
		})
	}
}

func TestCursorSingleRecordWrap(t *testing.T) {
	for kind, write := range fixtures {
		t.Run(string(kind), func(t *testing.T) {
			cur, err := Open(kind, write(t, [][]byte{[]byte("only")}))
			require.NoError(t, err)
			defer cur.Close()

			for i := 0; i < 4; i++ {
				require.Equal(t, "only", string(cur.Value()))
				cur.Next()
			}
		})
	}
}

func TestCursorSkipWraps(t *testing.T) {
	records := [][]byte{[]byte("r0"), []byte("r1"), []byte("r2")}

	for kind, write := range fixtures {
		t.Run(string(kind), func(t *testing.T) {
			cur, err := Open(kind, write(t, records))
			require.NoError(t, err)
			defer cur.Close()

			// 4 % 3 lands one past the start
			cur.Skip(4)
			require.Equal(t, "r1", string(cur.Value()))

			cur.Skip(0)
			require.Equal(t, "r1", string(cur.Value()))
		})
	}
}

func TestOpenRequiresExistingStore(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(LevelDB, filepath.Join(dir, "no-such-store"))
	require.Error(t, err)

	_, err = Open(Bolt, filepath.Join(dir, "no-such.db"))
	require.Error(t, err)
}

func TestOpenRejectsEmptyStores(t *testing.T) {
	for kind, write := range fixtures {
		t.Run(string(kind), func(t *testing.T) {
			_, err := Open(kind, write(t, nil))
			require.Error(t, err)
		})
	}
}

func TestOpenBoltWithoutRecordsBucket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucket([]byte("something-else"))
		return err
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(Bolt, path)
	require.Error(t, err)
	require.Contains(t, err.Error(), RecordsBucket)
}

func TestOpenHDF5HasNoCursor(t *testing.T) {
	_, err := Open(HDF5, "whatever.txt")
	require.Error(t, err)
}
