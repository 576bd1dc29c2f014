package backend

import (
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// RecordsBucket is the bucket a bolt record store keeps its dataset in.
const RecordsBucket = "records"

// boltCursor walks one long-lived read transaction. The store is opened
// read-only, so the transaction never blocks writers of other processes.
type boltCursor struct {
	path string
	db   *bolt.DB
	tx   *bolt.Tx
	cur  *bolt.Cursor
	val  []byte
}

func openBolt(path string) (*boltCursor, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt %s", path)
	}

	tx, err := db.Begin(false)
	if err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "begin read transaction on %s", path)
	}

	bucket := tx.Bucket([]byte(RecordsBucket))
	if bucket == nil {
		tx.Rollback()
		db.Close()
		return nil, errors.Errorf("bolt %s has no %q bucket", path, RecordsBucket)
	}

	cur := bucket.Cursor()
	key, val := cur.First()
	if key == nil {
		tx.Rollback()
		db.Close()
		return nil, errors.Errorf("bolt %s holds no records", path)
	}

	return &boltCursor{path: path, db: db, tx: tx, cur: cur, val: val}, nil
}

func (c *boltCursor) Value() []byte { return c.val }

func (c *boltCursor) Next() {
	k, v := c.cur.Next()
	if k == nil {
		// end of bucket, restart at the first record
		_, v = c.cur.First()
	}
	c.val = v
}

func (c *boltCursor) Skip(n int) {
	for i := 0; i < n; i++ {
		c.Next()
	}
}

// Close tears the handle down inside out: the read transaction first,
// then the store.
func (c *boltCursor) Close() error {
	err := c.tx.Rollback()
	if cerr := c.db.Close(); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "close bolt %s", c.path)
}
