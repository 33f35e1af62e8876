package main

import (
	"os"

	"github.com/rivetdb/rivet"
)

// Buckets prints a list of all top-level buckets.
func Buckets(path string) {
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

	err = db.View(func(tx *rivet.Tx) error {
		return tx.ForEach(func(name []byte, _ *rivet.Bucket) error {
			println(string(name))
			return nil
		})
	})
	if err != nil {
		fatal(err)
		return
	}
}
