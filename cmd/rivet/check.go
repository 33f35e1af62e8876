package main

import (
	"os"

	"github.com/rivetdb/rivet"
)

// Check performs a consistency check on the database and prints any errors found.
func Check(path string) {
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

	// Perform consistency check.
	err = db.Update(func(tx *rivet.Tx) error {
		return tx.Check()
	})
	if err != nil {
		fatalln(err)
		return
	}
	println("OK")
}
