package main

import (
	"os"

	"github.com/rivetdb/rivet"
)

// Set sets the value for a given key in a bucket.
func Set(path, name, key, value string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fatal(err)
		return
	}

	db, err := rivet.Open(path, 0600, nil)
	if err != nil {
		fatal(err)
		return
	}
	defer db.Close()

	err = db.Update(func(tx *rivet.Tx) error {
		// Find or create the bucket.
		b, err := tx.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return err
		}

		// Set value for a given key.
		return b.Put([]byte(key), []byte(value))
	})
	if err != nil {
		fatal(err)
		return
	}
}
