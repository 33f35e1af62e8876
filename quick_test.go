package rivet

import (
	"bytes"
	"flag"
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"
	"time"
)

// The quick checks run 5 iterations each (see qconfig) with a random seed.
// You can override these settings from the command line:
//
//   -quick.seed      The seed to use for randomizing.
//   -quick.maxitems  The maximum number of items to insert into a DB.
//   -quick.maxksize  The maximum size of a key.
//   -quick.maxvsize  The maximum size of a value.
//

var qseed, qmaxitems, qmaxksize, qmaxvsize int

func init() {
	flag.IntVar(&qseed, "quick.seed", int(time.Now().UnixNano())%100000, "")
	flag.IntVar(&qmaxitems, "quick.maxitems", 500, "")
	flag.IntVar(&qmaxksize, "quick.maxksize", 1024, "")
	flag.IntVar(&qmaxvsize, "quick.maxvsize", 1024, "")
}

// Ensure that the keys visible after a commit match a reference map for
// random sequences of puts.
func TestQuick_Put(t *testing.T) {
	f := func(items testdata) bool {
		withOpenDB(func(db *DB, path string) {
			m := make(map[string][]byte)

			if err := db.Update(func(tx *Tx) error {
				b, err := tx.CreateBucket([]byte("widgets"))
				if err != nil {
					return err
				}
				for _, item := range items {
					if err := b.Put(item.Key, item.Value); err != nil {
						return err
					}
					m[string(item.Key)] = item.Value
				}
				return nil
			}); err != nil {
				panic("put error: " + err.Error())
			}

			// Verify all key/values after commit.
			if err := db.View(func(tx *Tx) error {
				b := tx.Bucket([]byte("widgets"))
				for k, v := range m {
					value := b.Get([]byte(k))
					if !bytes.Equal(value, v) {
						t.Fatalf("value mismatch:\nkey: %x\ngot: %x\nexp: %x", []byte(k), value, v)
					}
				}
				return nil
			}); err != nil {
				panic("get error: " + err.Error())
			}
		})
		return true
	}
	if err := quick.Check(f, qconfig()); err != nil {
		t.Error(err)
	}
}

// Ensure that the set of visible pairs after random puts and deletes
// matches a reference map.
func TestQuick_PutDelete(t *testing.T) {
	f := func(items testdata) bool {
		withOpenDB(func(db *DB, path string) {
			m := make(map[string][]byte)

			// Insert everything.
			if err := db.Update(func(tx *Tx) error {
				b, err := tx.CreateBucket([]byte("widgets"))
				if err != nil {
					return err
				}
				for _, item := range items {
					if err := b.Put(item.Key, item.Value); err != nil {
						return err
					}
					m[string(item.Key)] = item.Value
				}
				return nil
			}); err != nil {
				panic("put error: " + err.Error())
			}

			// Delete every other item.
			if err := db.Update(func(tx *Tx) error {
				b := tx.Bucket([]byte("widgets"))
				for i, item := range items {
					if i%2 == 1 {
						continue
					}
					if _, ok := m[string(item.Key)]; !ok {
						continue
					}
					if err := b.Delete(item.Key); err != nil {
						return err
					}
					delete(m, string(item.Key))
				}
				return nil
			}); err != nil {
				panic("delete error: " + err.Error())
			}

			// The remaining set must match the reference map exactly.
			if err := db.View(func(tx *Tx) error {
				b := tx.Bucket([]byte("widgets"))
				var count int
				c := b.Cursor()
				for k, v := c.First(); k != nil; k, v = c.Next() {
					if !bytes.Equal(v, m[string(k)]) {
						t.Fatalf("value mismatch:\nkey: %x\ngot: %x\nexp: %x", k, v, m[string(k)])
					}
					count++
				}
				if count != len(m) {
					t.Fatalf("item count mismatch: got %d, exp %d", count, len(m))
				}
				return nil
			}); err != nil {
				panic("get error: " + err.Error())
			}
		})
		return true
	}
	if err := quick.Check(f, qconfig()); err != nil {
		t.Error(err)
	}
}

func qconfig() *quick.Config {
	return &quick.Config{
		MaxCount: 5,
		Rand:     rand.New(rand.NewSource(int64(qseed))),
	}
}

type testdata []testdataitem

func (t testdata) Generate(rand *rand.Rand, size int) reflect.Value {
	n := rand.Intn(qmaxitems-1) + 1
	items := make(testdata, n)
	used := make(map[string]bool)
	for i := 0; i < n; i++ {
		item := &items[i]
		item.Key = randByteSlice(rand, 1, qmaxksize)
		for used[string(item.Key)] {
			item.Key = randByteSlice(rand, 1, qmaxksize)
		}
		used[string(item.Key)] = true
		item.Value = randByteSlice(rand, 0, qmaxvsize)
	}
	return reflect.ValueOf(items)
}

type testdataitem struct {
	Key   []byte
	Value []byte
}

func randByteSlice(rand *rand.Rand, minSize, maxSize int) []byte {
	n := rand.Intn(maxSize-minSize) + minSize
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[i] = byte(rand.Intn(255))
	}
	return b
}
