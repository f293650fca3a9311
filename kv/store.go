package kv

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/hupe1980/burrow/logging"
)

// metaSizeKey records the backing size the store was last opened with. Keys
// under the reserved "__meta:" prefix never appear in namespace scans.
const metaSizeKey = "__meta:max_size"

const (
	minBackingSize = 1 << 20   // badger's smallest value log segment
	maxBackingSize = 2<<30 - 1 // badger's largest value log segment
)

// Store is one embedded ordered-key transactional database opened against a
// sized backing directory.
type Store struct {
	db     *badger.DB
	path   string
	logger logging.Logger
}

// Open opens (creating if necessary) the database at path with the
// configured maximum backing size. Opening reconciles the recorded backing
// size against the configured value and updates it when they differ.
func Open(path string, maxSize int64, logger logging.Logger) (*Store, error) {
	logger = logging.OrNoOp(logger)

	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR)
	if maxSize > 0 {
		size := maxSize
		if size < minBackingSize {
			size = minBackingSize
		}
		if size > maxBackingSize {
			size = maxBackingSize
		}
		opts = opts.WithValueLogFileSize(size)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.reconcileSize(maxSize); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// reconcileSize compares the recorded backing size with the configured one
// and persists the configured value when they differ.
func (s *Store) reconcileSize(configured int64) error {
	if configured <= 0 {
		return nil
	}
	var recorded int64
	found, err := s.GetJSON(metaSizeKey, &recorded)
	if err != nil {
		return err
	}
	if found && recorded == configured {
		return nil
	}
	if found {
		s.logger.Debug("kv: backing size updated", "path", s.path, "from", recorded, "to", configured)
	}
	return s.SetJSON(metaSizeKey, configured)
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(txn *badger.Txn) error) error {
	return s.db.View(fn)
}

// Update runs fn in a read-write transaction. The database serializes
// writers; on error nothing fn wrote is visible.
func (s *Store) Update(fn func(txn *badger.Txn) error) error {
	return s.db.Update(fn)
}

// GetJSON loads and decodes the value at key into out, reporting whether the
// key existed.
func (s *Store) GetJSON(key string, out any) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = GetJSON(txn, key, out)
		return err
	})
	return found, err
}

// SetJSON encodes value as JSON and stores it at key in its own transaction.
func (s *Store) SetJSON(key string, value any) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return SetJSON(txn, key, value)
	})
}

// Has reports whether key exists.
func (s *Store) Has(key string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes key in its own transaction. Deleting an absent key is not
// an error.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetJSON loads and decodes the value at key within an existing transaction.
func GetJSON(txn *badger.Txn, key string, out any) (bool, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	}); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON encodes value as JSON and stores it at key within an existing
// transaction.
func SetJSON(txn *badger.Txn, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

// ScanPrefix iterates, in ascending key order, over every key starting with
// prefix, invoking fn with the key and raw value. Keys containing more than
// maxColons colon separators are skipped so leaf-namespace scans ignore any
// deeper sub-namespace; pass a negative maxColons to disable the filter.
// Returning an error from fn stops the scan; ErrStopScan stops it cleanly.
func ScanPrefix(txn *badger.Txn, prefix string, maxColons int, fn func(key string, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		item := it.Item()
		key := string(item.Key())

		if strings.HasPrefix(key, "__meta:") {
			continue
		}
		if maxColons >= 0 && strings.Count(key, ":") > maxColons {
			continue
		}

		err := item.Value(func(val []byte) error {
			return fn(key, val)
		})
		if errors.Is(err, ErrStopScan) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ErrStopScan stops a ScanPrefix early without reporting an error.
var ErrStopScan = errors.New("stop scan")
