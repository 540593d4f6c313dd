// Package ledger keeps the append-only record of completed ingestions,
// independent of the bulk content store. Entries are JSON documents in an
// embedded Badger store.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// keyPrefix orders entries chronologically under one namespace.
const keyPrefix = "upload/"

// UploadRecord is one completed ingestion. Created exactly once per
// successful upload, strictly after the content rows are committed.
type UploadRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Hash       string    `json:"hash"`
	Path       string    `json:"path"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Filter holds the optional history filters. UploadedAt matches on the date
// only, ignoring time-of-day.
type Filter struct {
	Name       *string
	UploadedAt *time.Time
}

// matches applies the filter to one record.
func (f Filter) matches(rec UploadRecord) bool {
	if f.Name != nil && rec.Name != *f.Name {
		return false
	}
	if f.UploadedAt != nil {
		want := f.UploadedAt.UTC().Format("2006-01-02")
		got := rec.UploadedAt.UTC().Format("2006-01-02")
		if want != got {
			return false
		}
	}
	return true
}

// Badger is the embedded ledger store.
type Badger struct {
	db *badger.DB
}

// Open opens (or creates) the ledger at dir.
func Open(dir string) (*Badger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open ledger at %s: %w", dir, err)
	}
	return &Badger{db: db}, nil
}

// OpenInMemory opens a ledger that lives only for the process lifetime.
// Used in tests and for local runs without persistence.
func OpenInMemory() (*Badger, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory ledger: %w", err)
	}
	return &Badger{db: db}, nil
}

// Close releases the underlying store.
func (l *Badger) Close() error {
	return l.db.Close()
}

// Append writes one record. Keys embed the upload timestamp so a prefix scan
// returns entries in ingestion order.
func (l *Badger) Append(ctx context.Context, rec UploadRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode upload record: %w", err)
	}

	key := []byte(keyPrefix + rec.UploadedAt.UTC().Format(time.RFC3339Nano) + "/" + rec.ID)
	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("append upload record: %w", err)
	}
	return nil
}

// Find returns all records matching the filter, oldest first.
func (l *Badger) Find(ctx context.Context, f Filter) ([]UploadRecord, error) {
	var out []UploadRecord

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec UploadRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode upload record: %w", err)
			}
			if f.matches(rec) {
				out = append(out, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindByHash returns the first record with the given content hash, or nil.
func (l *Badger) FindByHash(ctx context.Context, hash string) (*UploadRecord, error) {
	recs, err := l.Find(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].Hash == hash {
			return &recs[i], nil
		}
	}
	return nil, nil
}

// HashFile computes the SHA-256 hex digest over the full file content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
