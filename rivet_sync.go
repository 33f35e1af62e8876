//go:build !linux

package rivet

// fdatasync falls back to syncing metadata too.
func fdatasync(db *DB) error {
	return db.file.Sync()
}
