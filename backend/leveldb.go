package backend

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

type levelCursor struct {
	path string
	db   *leveldb.DB
	it   iterator.Iterator
}

func openLevelDB(path string) (*levelCursor, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		ErrorIfMissing:         true,
		OpenFilesCacheCapacity: 100,
		ReadOnly:               true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb %s", path)
	}

	it := db.NewIterator(nil, nil)
	if !it.First() {
		err := it.Error()
		it.Release()
		db.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "read leveldb %s", path)
		}
		return nil, errors.Errorf("leveldb %s holds no records", path)
	}

	return &levelCursor{path: path, db: db, it: it}, nil
}

func (c *levelCursor) Value() []byte { return c.it.Value() }

func (c *levelCursor) Next() {
	if c.it.Next() {
		return
	}
	// end of keyspace, restart at the first record
	if !c.it.First() {
		log.Fatalf("Iterating leveldb %s: %v", c.path, c.it.Error())
	}
}

func (c *levelCursor) Skip(n int) {
	for i := 0; i < n; i++ {
		c.Next()
	}
}

// Close releases the iterator before the store.
func (c *levelCursor) Close() error {
	c.it.Release()
	err := c.it.Error()
	if cerr := c.db.Close(); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "close leveldb %s", c.path)
}
