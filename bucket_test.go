package rivet

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Ensure that a bucket can write a key/value.
func TestBucket_Put(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, err := tx.CreateBucket([]byte("widgets"))
			assert.NoError(t, err)
			assert.NoError(t, b.Put([]byte("foo"), []byte("bar")))
			assert.Equal(t, []byte("bar"), b.Get([]byte("foo")))
			return nil
		}))
	})
}

// Ensure that many keys written in one transaction are all visible in a
// subsequent read transaction.
func TestBucket_Put_Multiple(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, err := tx.CreateBucket([]byte("b"))
			assert.NoError(t, err)
			for i := 0; i < 200; i++ {
				key := []byte(fmt.Sprintf("k%d", i))
				value := []byte(fmt.Sprintf("value%d", i))
				assert.NoError(t, b.Put(key, value))
			}
			return nil
		}))
		assert.NoError(t, db.View(func(tx *Tx) error {
			b := tx.Bucket([]byte("b"))
			assert.Equal(t, []byte("value0"), b.Get([]byte("k0")))
			assert.Equal(t, []byte("value199"), b.Get([]byte("k199")))
			assert.Nil(t, b.Get([]byte("k200")))
			return nil
		}))
	})
}

// Ensure that putting a value overwrites the previous one.
func TestBucket_Put_Replace(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, _ := tx.CreateBucket([]byte("widgets"))
			assert.NoError(t, b.Put([]byte("foo"), []byte("bar")))
			assert.NoError(t, b.Put([]byte("foo"), []byte("baz")))
			assert.Equal(t, []byte("baz"), b.Get([]byte("foo")))
			return nil
		}))
	})
}

// Ensure that key and value limits are enforced.
func TestBucket_Put_Limits(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, _ := tx.CreateBucket([]byte("widgets"))
			assert.Equal(t, ErrKeyRequired, b.Put([]byte(""), []byte("v")))
			assert.Equal(t, ErrKeyRequired, b.Put(nil, []byte("v")))
			assert.Equal(t, ErrKeyTooLarge, b.Put(make([]byte, 33*1024), []byte("v")))
			assert.NoError(t, b.Put(make([]byte, MaxKeySize), []byte("v")))
			return nil
		}))
	})
}

// Ensure that a value larger than the maximum is rejected.
func TestBucket_Put_ValueTooLarge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large allocation in short mode")
	}
	withOpenDB(func(db *DB, path string) {
		err := db.Update(func(tx *Tx) error {
			b, _ := tx.CreateBucket([]byte("widgets"))
			return b.Put([]byte("k"), make([]byte, MaxValueSize+1))
		})
		assert.Equal(t, ErrValueTooLarge, err)
	})
}

// Ensure that writes on a read-only transaction are rejected.
func TestBucket_Put_ReadOnlyTx(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		mustCreateBucket(db, "widgets")
		assert.NoError(t, db.View(func(tx *Tx) error {
			b := tx.Bucket([]byte("widgets"))
			assert.Equal(t, ErrTxNotWritable, b.Put([]byte("foo"), []byte("bar")))
			assert.Equal(t, ErrTxNotWritable, b.Delete([]byte("foo")))
			assert.Equal(t, ErrTxNotWritable, b.SetSequence(10))
			_, err := b.NextSequence()
			assert.Equal(t, ErrTxNotWritable, err)
			return nil
		}))
	})
}

// Ensure that putting over an existing bucket name is rejected.
func TestBucket_Put_IncompatibleValue(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, _ := tx.CreateBucket([]byte("widgets"))
			_, err := b.CreateBucket([]byte("sub"))
			assert.NoError(t, err)
			assert.Equal(t, ErrIncompatibleValue, b.Put([]byte("sub"), []byte("v")))
			return nil
		}))
	})
}

// Ensure that getting a missing key returns nil and getting a bucket key
// returns nil.
func TestBucket_Get(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, _ := tx.CreateBucket([]byte("widgets"))
			assert.Nil(t, b.Get([]byte("missing")))

			_, err := b.CreateBucket([]byte("sub"))
			assert.NoError(t, err)
			assert.Nil(t, b.Get([]byte("sub")))
			return nil
		}))
	})
}

// Ensure that a bucket can delete an existing key.
func TestBucket_Delete(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, _ := tx.CreateBucket([]byte("widgets"))
			assert.NoError(t, b.Put([]byte("foo"), []byte("bar")))
			assert.NoError(t, b.Delete([]byte("foo")))
			assert.Nil(t, b.Get([]byte("foo")))
			return nil
		}))
	})
}

// Ensure that deleting a missing key reports it.
func TestBucket_Delete_NotFound(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, _ := tx.CreateBucket([]byte("widgets"))
			assert.Equal(t, ErrKeyNotFound, b.Delete([]byte("missing")))
			return nil
		}))
	})
}

// Ensure that deleting a bucket key with Delete() is rejected.
func TestBucket_Delete_Bucket(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, _ := tx.CreateBucket([]byte("widgets"))
			_, err := b.CreateBucket([]byte("sub"))
			assert.NoError(t, err)
			assert.Equal(t, ErrIncompatibleValue, b.Delete([]byte("sub")))
			return nil
		}))
	})
}

// Ensure that a bucket can be created and retrieved.
func TestBucket_CreateBucket(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, err := tx.CreateBucket([]byte("widgets"))
			assert.NoError(t, err)
			assert.NotNil(t, b)
			return nil
		}))
		assert.NoError(t, db.View(func(tx *Tx) error {
			assert.NotNil(t, tx.Bucket([]byte("widgets")))
			return nil
		}))
	})
}

// Ensure that creating a bucket twice returns an error.
func TestBucket_CreateBucket_Exists(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		mustCreateBucket(db, "widgets")
		err := db.Update(func(tx *Tx) error {
			_, err := tx.CreateBucket([]byte("widgets"))
			return err
		})
		assert.Equal(t, ErrBucketExists, err)
	})
}

// Ensure that creating a bucket with a blank name returns an error.
func TestBucket_CreateBucket_NameRequired(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		err := db.Update(func(tx *Tx) error {
			_, err := tx.CreateBucket(nil)
			return err
		})
		assert.Equal(t, ErrBucketNameRequired, err)
	})
}

// Ensure that creating a bucket on an existing non-bucket key is rejected.
func TestBucket_CreateBucket_IncompatibleValue(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, _ := tx.CreateBucket([]byte("widgets"))
			assert.NoError(t, b.Put([]byte("foo"), []byte("bar")))
			_, err := b.CreateBucket([]byte("foo"))
			assert.Equal(t, ErrIncompatibleValue, err)
			return nil
		}))
	})
}

// Ensure that CreateBucketIfNotExists returns an existing bucket.
func TestBucket_CreateBucketIfNotExists(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, err := tx.CreateBucketIfNotExists([]byte("widgets"))
			assert.NoError(t, err)
			assert.NoError(t, b.Put([]byte("foo"), []byte("bar")))

			b2, err := tx.CreateBucketIfNotExists([]byte("widgets"))
			assert.NoError(t, err)
			assert.Equal(t, []byte("bar"), b2.Get([]byte("foo")))
			return nil
		}))
	})
}

// Ensure that a bucket can be deleted and its pages are released.
func TestBucket_DeleteBucket(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, _ := tx.CreateBucket([]byte("widgets"))
			for i := 0; i < 1000; i++ {
				assert.NoError(t, b.Put([]byte(strconv.Itoa(i)), []byte(strconv.Itoa(i))))
			}
			return nil
		}))
		assert.NoError(t, db.Update(func(tx *Tx) error {
			return tx.DeleteBucket([]byte("widgets"))
		}))

		// The deleted subtree's pages are pending until the next writer
		// begins with no readers attached.
		assert.True(t, db.freelist.pendingCount() > 0)

		assert.NoError(t, db.View(func(tx *Tx) error {
			assert.Nil(t, tx.Bucket([]byte("widgets")))
			return nil
		}))
	})
}

// Ensure that deleting a missing bucket reports it.
func TestBucket_DeleteBucket_NotFound(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		err := db.Update(func(tx *Tx) error {
			return tx.DeleteBucket([]byte("widgets"))
		})
		assert.Equal(t, ErrBucketNotFound, err)
	})
}

// Ensure that deleting a bucket removes nested buckets recursively.
func TestBucket_DeleteBucket_Nested(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			widgets, _ := tx.CreateBucket([]byte("widgets"))
			foo, err := widgets.CreateBucket([]byte("foo"))
			assert.NoError(t, err)
			bar, err := foo.CreateBucket([]byte("bar"))
			assert.NoError(t, err)
			assert.NoError(t, bar.Put([]byte("baz"), []byte("bat")))
			return nil
		}))
		assert.NoError(t, db.Update(func(tx *Tx) error {
			return tx.DeleteBucket([]byte("widgets"))
		}))
		assert.NoError(t, db.View(func(tx *Tx) error {
			assert.Nil(t, tx.Bucket([]byte("widgets")))
			return nil
		}))
	})
}

// Ensure that nested buckets round-trip key/value pairs.
func TestBucket_Nested(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			widgets, _ := tx.CreateBucket([]byte("widgets"))
			foo, err := widgets.CreateBucket([]byte("foo"))
			assert.NoError(t, err)
			assert.NoError(t, foo.Put([]byte("bar"), []byte("baz")))
			assert.NoError(t, widgets.Put([]byte("plain"), []byte("value")))
			return nil
		}))
		assert.NoError(t, db.View(func(tx *Tx) error {
			widgets := tx.Bucket([]byte("widgets"))
			assert.Equal(t, []byte("value"), widgets.Get([]byte("plain")))
			foo := widgets.Bucket([]byte("foo"))
			assert.NotNil(t, foo)
			assert.Equal(t, []byte("baz"), foo.Get([]byte("bar")))
			return nil
		}))
	})
}

// Ensure a small bucket stays inline and a growing bucket is promoted to
// its own root page.
func TestBucket_InlinePromotion(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			widgets, _ := tx.CreateBucket([]byte("widgets"))
			small, err := widgets.CreateBucket([]byte("small"))
			assert.NoError(t, err)
			assert.NoError(t, small.Put([]byte("k"), []byte("v")))

			big, err := widgets.CreateBucket([]byte("big"))
			assert.NoError(t, err)
			for i := 0; i < 16; i++ {
				assert.NoError(t, big.Put([]byte(strconv.Itoa(i)), make([]byte, 128)))
			}
			return nil
		}))
		assert.NoError(t, db.View(func(tx *Tx) error {
			widgets := tx.Bucket([]byte("widgets"))
			assert.Equal(t, pgid(0), widgets.Bucket([]byte("small")).Root())
			assert.NotEqual(t, pgid(0), widgets.Bucket([]byte("big")).Root())

			// Both are fully readable.
			assert.Equal(t, []byte("v"), widgets.Bucket([]byte("small")).Get([]byte("k")))
			assert.Equal(t, 128, len(widgets.Bucket([]byte("big")).Get([]byte("3"))))
			return nil
		}))
	})
}

// Ensure that bucket sequences increment and persist.
func TestBucket_NextSequence(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, _ := tx.CreateBucket([]byte("widgets"))
			seq, err := b.NextSequence()
			assert.NoError(t, err)
			assert.Equal(t, uint64(1), seq)
			seq, err = b.NextSequence()
			assert.NoError(t, err)
			assert.Equal(t, uint64(2), seq)
			return nil
		}))
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b := tx.Bucket([]byte("widgets"))
			assert.Equal(t, uint64(2), b.Sequence())
			seq, err := b.NextSequence()
			assert.NoError(t, err)
			assert.Equal(t, uint64(3), seq)
			return nil
		}))
	})
}

// Ensure that a bucket sequence can be set directly.
func TestBucket_SetSequence(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, _ := tx.CreateBucket([]byte("widgets"))
			assert.NoError(t, b.SetSequence(1000))
			return nil
		}))
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b := tx.Bucket([]byte("widgets"))
			seq, err := b.NextSequence()
			assert.NoError(t, err)
			assert.Equal(t, uint64(1001), seq)
			return nil
		}))
	})
}

// Ensure a bucket can iterate over all its key/value pairs in order.
func TestBucket_ForEach(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, _ := tx.CreateBucket([]byte("widgets"))
			assert.NoError(t, b.Put([]byte("foo"), []byte("0000")))
			assert.NoError(t, b.Put([]byte("baz"), []byte("0001")))
			assert.NoError(t, b.Put([]byte("bar"), []byte("0002")))

			var index int
			err := b.ForEach(func(k, v []byte) error {
				switch index {
				case 0:
					assert.Equal(t, []byte("bar"), k)
					assert.Equal(t, []byte("0002"), v)
				case 1:
					assert.Equal(t, []byte("baz"), k)
					assert.Equal(t, []byte("0001"), v)
				case 2:
					assert.Equal(t, []byte("foo"), k)
					assert.Equal(t, []byte("0000"), v)
				}
				index++
				return nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 3, index)
			return nil
		}))
	})
}

// Ensure an error returned by the ForEach visitor stops the iteration.
func TestBucket_ForEach_ShortCircuit(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, _ := tx.CreateBucket([]byte("widgets"))
			assert.NoError(t, b.Put([]byte("bar"), []byte("0000")))
			assert.NoError(t, b.Put([]byte("baz"), []byte("0000")))
			assert.NoError(t, b.Put([]byte("foo"), []byte("0000")))

			var index int
			err := b.ForEach(func(k, v []byte) error {
				index++
				if bytes.Equal(k, []byte("baz")) {
					return fmt.Errorf("marker")
				}
				return nil
			})
			assert.EqualError(t, err, "marker")
			assert.Equal(t, 2, index)
			return nil
		}))
	})
}

// Ensure that values spanning overflow pages round-trip.
func TestBucket_LargeValues(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		value := make([]byte, 50000)
		for i := range value {
			value[i] = byte(i % 251)
		}
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, _ := tx.CreateBucket([]byte("widgets"))
			return b.Put([]byte("big"), value)
		}))
		assert.NoError(t, db.View(func(tx *Tx) error {
			assert.Equal(t, value, tx.Bucket([]byte("widgets")).Get([]byte("big")))
			return nil
		}))
	})
}

// Ensure a bucket can report stats about itself.
func TestBucket_Stats(t *testing.T) {
	withOpenDB(func(db *DB, path string) {
		assert.NoError(t, db.Update(func(tx *Tx) error {
			b, _ := tx.CreateBucket([]byte("widgets"))
			for i := 0; i < 100; i++ {
				assert.NoError(t, b.Put([]byte(fmt.Sprintf("%04d", i)), []byte("0000")))
			}
			return nil
		}))
		assert.NoError(t, db.View(func(tx *Tx) error {
			stats := tx.Bucket([]byte("widgets")).Stats()
			assert.Equal(t, 100, stats.KeyN)
			assert.Equal(t, 1, stats.BucketN)
			assert.True(t, stats.Depth >= 1)
			assert.True(t, stats.LeafPageN >= 1)
			return nil
		}))
	})
}

// Ensure nested buckets and their contents survive a close and reopen.
func TestBucket_PersistenceAcrossReopen(t *testing.T) {
	path := tempfile()
	defer os.RemoveAll(path)

	db, err := Open(path, 0666, nil)
	assert.NoError(t, err)
	assert.NoError(t, db.Update(func(tx *Tx) error {
		widgets, _ := tx.CreateBucket([]byte("widgets"))
		nested, err := widgets.CreateBucket([]byte("nested"))
		assert.NoError(t, err)
		return nested.Put([]byte("k"), []byte("v"))
	}))
	assert.NoError(t, db.Close())

	db, err = Open(path, 0666, nil)
	assert.NoError(t, err)
	defer db.Close()
	assert.NoError(t, db.View(func(tx *Tx) error {
		assert.Equal(t, []byte("v"), tx.Bucket([]byte("widgets")).Bucket([]byte("nested")).Get([]byte("k")))
		return nil
	}))
}
