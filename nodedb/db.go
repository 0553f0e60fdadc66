package nodedb

import (
	"github.com/go-errors/errors"
	"go.etcd.io/bbolt"
	"os"
	"path/filepath"
	"time"
)

const (
	dbName           = "lnshell.db"
	dbFilePermission = 0600
)

var (
	eventsBucket   = []byte("events")
	paymentsBucket = []byte("payments")
	settingsBucket = []byte("settings")

	invoiceCursorKey = []byte("invoice-cursor")
)

// DB is the persistent store of the shell. It keeps the queue of node events
// that have not been acknowledged yet, the payments still in flight and the
// cursors needed to resume node subscriptions after a restart.
type DB struct {
	*bbolt.DB
	dbPath string
}

// Open opens or creates lnshell.db within the given directory.
func Open(dbPath string) (*DB, error) {
	path := filepath.Join(dbPath, dbName)

	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return nil, errors.Errorf("Could not create data directory %v: %v", dbPath, err)
	}

	bdb, err := bbolt.Open(path, dbFilePermission, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Errorf("Could not open %v: %v", path, err)
	}

	db := &DB{
		DB:     bdb,
		dbPath: dbPath,
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{eventsBucket, paymentsBucket, settingsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, errors.Errorf("Could not create buckets: %v", err)
	}

	return db, nil
}

// Path returns the directory the database file lives in.
func (db *DB) Path() string {
	return db.dbPath
}
