package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rivetdb/rivet"
)

// Export exports the entire database as a JSON document.
func Export(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fatal(err)
		return
	}

	// Open the database.
	db, err := rivet.Open(path, 0600, nil)
	if err != nil {
		fatal(err)
		return
	}
	defer db.Close()

	err = db.View(func(tx *rivet.Tx) error {
		// Loop over every bucket and export it as a raw message.
		var root []*rawMessage
		err := tx.ForEach(func(name []byte, b *rivet.Bucket) error {
			message, err := exportBucket(name, b)
			if err != nil {
				return err
			}
			root = append(root, message)
			return nil
		})
		if err != nil {
			return err
		}

		// Encode all buckets into JSON.
		output, err := json.Marshal(root)
		if err != nil {
			return fmt.Errorf("encode: %s", err)
		}
		print(string(output))
		return nil
	})
	if err != nil {
		fatal(err)
		return
	}
}

func exportBucket(name []byte, b *rivet.Bucket) (*rawMessage, error) {
	// Encode individual key/value pairs into raw messages.
	var children = make([]*rawMessage, 0)
	err := b.ForEach(func(k, v []byte) error {
		// Nested buckets export recursively.
		if v == nil {
			child, err := exportBucket(k, b.Bucket(k))
			if err != nil {
				return err
			}
			children = append(children, child)
			return nil
		}

		var child = &rawMessage{Key: k}
		var err error
		if child.Value, err = json.Marshal(v); err != nil {
			return fmt.Errorf("value: %s", err)
		}

		children = append(children, child)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Encode bucket into a raw message.
	var root = rawMessage{Type: "bucket", Key: name}
	if root.Value, err = json.Marshal(children); err != nil {
		return nil, fmt.Errorf("children: %s", err)
	}

	return &root, nil
}

// rawMessage represents a JSON element in an export document.
type rawMessage struct {
	Type  string          `json:"type,omitempty"`
	Key   []byte          `json:"key"`
	Value json.RawMessage `json:"value"`
}
