package nodedb

import (
	"github.com/go-errors/errors"
	"go.etcd.io/bbolt"
)

// AddPayment remembers a payment whose outcome has not been reported yet.
func (db *DB) AddPayment(paymentHash string) error {
	err := db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(paymentsBucket)
		if err != nil {
			return err
		}

		return bucket.Put([]byte(paymentHash), []byte{})
	})
	if err != nil {
		return errors.Errorf("Could not store payment %v: %v", paymentHash, err)
	}

	return nil
}

// RemovePayment forgets a payment once its outcome was queued. Removing an
// unknown payment is not an error.
func (db *DB) RemovePayment(paymentHash string) error {
	err := db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(paymentsBucket)
		if bucket == nil {
			return nil
		}

		return bucket.Delete([]byte(paymentHash))
	})
	if err != nil {
		return errors.Errorf("Could not remove payment %v: %v", paymentHash, err)
	}

	return nil
}

func (db *DB) ListPayments() ([]string, error) {
	hashes := []string{}

	err := db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(paymentsBucket)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, _ []byte) error {
			hashes = append(hashes, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, errors.Errorf("Could not list payments: %v", err)
	}

	return hashes, nil
}
