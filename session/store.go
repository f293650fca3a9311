package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/hupe1980/burrow/chat"
	"github.com/hupe1980/burrow/config"
	"github.com/hupe1980/burrow/internal/util"
	"github.com/hupe1980/burrow/kv"
	"github.com/hupe1980/burrow/logging"
)

const (
	sessionPrefix = "session:"
	aliasPrefix   = "alias:"
)

var (
	// ErrUnknownSession is returned when neither an alias nor an id
	// resolves to a stored session.
	ErrUnknownSession = errors.New("unknown session")
	// ErrAliasTaken is returned when an alias is already bound to a
	// different session.
	ErrAliasTaken = errors.New("alias already in use")
	// ErrNumericAlias is returned for aliases that parse as integers, which
	// would be ambiguous with session ids.
	ErrNumericAlias = errors.New("alias must not be numeric")
)

// Store persists session records in an embedded ordered-key database.
type Store struct {
	kv     *kv.Store
	logger logging.Logger
}

// NewStore opens the session database at the configured path and size and
// garbage-collects sessions whose history is empty.
func NewStore(cfg *config.Config, logger logging.Logger) (*Store, error) {
	logger = logging.OrNoOp(logger)

	path := util.ExpandHome(cfg.String("database.sessions.path"))
	size := cfg.Int64("database.sessions.size")

	db, err := kv.Open(path, size, logger)
	if err != nil {
		return nil, err
	}

	s := &Store{kv: db, logger: logger}
	if err := s.PruneEmpty(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.kv.Close()
}

func sessionKey(id int) string {
	return fmt.Sprintf("session:%08d", id)
}

func parseSessionKey(key string) (int, error) {
	return strconv.Atoi(strings.TrimPrefix(key, sessionPrefix))
}

// NextID returns the smallest positive id not currently in use. Ids freed
// by deletion are reused.
func (s *Store) NextID() (int, error) {
	var next int
	err := s.kv.View(func(txn *badger.Txn) error {
		var err error
		next, err = nextIDTxn(txn)
		return err
	})
	return next, err
}

// nextIDTxn walks existing ids in ascending order until it finds a gap.
func nextIDTxn(txn *badger.Txn) (int, error) {
	next := 1
	err := kv.ScanPrefix(txn, sessionPrefix, 1, func(key string, _ []byte) error {
		id, err := parseSessionKey(key)
		if err != nil {
			return err
		}
		if id > next {
			return kv.ErrStopScan
		}
		next = id + 1
		return nil
	})
	return next, err
}

// Add persists a live session for the first time, assigning an id when the
// session has none. The record and its alias index entry are written in one
// transaction.
func (s *Store) Add(sess *chat.Session) error {
	return s.kv.Update(func(txn *badger.Txn) error {
		if sess.ID == 0 {
			id, err := nextIDTxn(txn)
			if err != nil {
				return err
			}
			sess.ID = id
		}
		if err := kv.SetJSON(txn, sessionKey(sess.ID), ToRecord(sess)); err != nil {
			return err
		}
		if sess.Alias != "" {
			return kv.SetJSON(txn, aliasPrefix+sess.Alias, sess.ID)
		}
		return nil
	})
}

// Refresh re-serializes a previously saved session, maintaining the alias
// index when the alias changed since the last write. Sessions without an id
// are added instead.
func (s *Store) Refresh(sess *chat.Session) error {
	if sess.ID == 0 {
		return s.Add(sess)
	}
	return s.kv.Update(func(txn *badger.Txn) error {
		var prev Record
		found, err := kv.GetJSON(txn, sessionKey(sess.ID), &prev)
		if err != nil {
			return err
		}

		if err := kv.SetJSON(txn, sessionKey(sess.ID), ToRecord(sess)); err != nil {
			return err
		}

		if found && prev.Alias != "" && prev.Alias != sess.Alias {
			if err := txn.Delete([]byte(aliasPrefix + prev.Alias)); err != nil {
				return err
			}
		}
		if sess.Alias != "" && (!found || prev.Alias != sess.Alias) {
			return kv.SetJSON(txn, aliasPrefix+sess.Alias, sess.ID)
		}
		return nil
	})
}

// SwitchTo loads the session named by id or alias and overlays its state
// onto the given live session in place.
func (s *Store) SwitchTo(idOrAlias string, sess *chat.Session) error {
	rec, err := s.Get(idOrAlias)
	if err != nil {
		return err
	}
	return ApplyRecord(rec, sess)
}

// ResolveID resolves an alias or decimal id string to a stored session id.
// Aliases are checked first.
func (s *Store) ResolveID(idOrAlias string) (int, error) {
	id, err := s.LookupID(idOrAlias)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSession, idOrAlias)
	}
	return id, nil
}

// LookupID behaves like ResolveID but returns 0 without an error when
// nothing matches.
func (s *Store) LookupID(idOrAlias string) (int, error) {
	var id int
	err := s.kv.View(func(txn *badger.Txn) error {
		found, err := kv.GetJSON(txn, aliasPrefix+idOrAlias, &id)
		if err != nil {
			return err
		}
		if found {
			return nil
		}

		n, convErr := strconv.Atoi(idOrAlias)
		if convErr != nil || n <= 0 {
			return nil
		}
		if _, err := txn.Get([]byte(sessionKey(n))); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		id = n
		return nil
	})
	return id, err
}

// Get loads the record for id or alias.
func (s *Store) Get(idOrAlias string) (*Record, error) {
	id, err := s.ResolveID(idOrAlias)
	if err != nil {
		return nil, err
	}

	var rec Record
	found, err := s.kv.GetJSON(sessionKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}
	return &rec, nil
}

// All returns every stored record in ascending id order.
func (s *Store) All() ([]Record, error) {
	var records []Record
	err := s.kv.View(func(txn *badger.Txn) error {
		return kv.ScanPrefix(txn, sessionPrefix, 1, func(_ string, value []byte) error {
			var rec Record
			if err := json.Unmarshal(value, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

// SetAlias binds alias to the session named by idOrAlias, replacing any
// alias the session had. An empty alias clears it. Numeric aliases and
// aliases bound to another session are rejected without changing anything.
func (s *Store) SetAlias(idOrAlias, alias string) error {
	if alias != "" {
		if _, err := strconv.Atoi(alias); err == nil {
			return fmt.Errorf("%w: %q", ErrNumericAlias, alias)
		}
	}

	id, err := s.ResolveID(idOrAlias)
	if err != nil {
		return err
	}

	return s.kv.Update(func(txn *badger.Txn) error {
		if alias != "" {
			var bound int
			found, err := kv.GetJSON(txn, aliasPrefix+alias, &bound)
			if err != nil {
				return err
			}
			if found && bound != id {
				return fmt.Errorf("%w: %q is bound to session %d", ErrAliasTaken, alias, bound)
			}
		}

		var rec Record
		found, err := kv.GetJSON(txn, sessionKey(id), &rec)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %d", ErrUnknownSession, id)
		}

		if rec.Alias != "" && rec.Alias != alias {
			if err := txn.Delete([]byte(aliasPrefix + rec.Alias)); err != nil {
				return err
			}
		}
		rec.Alias = alias
		if err := kv.SetJSON(txn, sessionKey(id), &rec); err != nil {
			return err
		}
		if alias != "" {
			return kv.SetJSON(txn, aliasPrefix+alias, id)
		}
		return nil
	})
}

// SetTitle updates the title of the session named by idOrAlias.
func (s *Store) SetTitle(idOrAlias, title string) error {
	id, err := s.ResolveID(idOrAlias)
	if err != nil {
		return err
	}

	return s.kv.Update(func(txn *badger.Txn) error {
		var rec Record
		found, err := kv.GetJSON(txn, sessionKey(id), &rec)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %d", ErrUnknownSession, id)
		}
		rec.Title = title
		return kv.SetJSON(txn, sessionKey(id), &rec)
	})
}

// IsAliasAvailable reports whether alias may be bound to a new session:
// non-numeric and not currently in the index.
func (s *Store) IsAliasAvailable(alias string) (bool, error) {
	if alias == "" {
		return false, nil
	}
	if _, err := strconv.Atoi(alias); err == nil {
		return false, nil
	}
	taken, err := s.kv.Has(aliasPrefix + alias)
	return !taken, err
}

// Delete removes the session named by idOrAlias and its alias index entry.
func (s *Store) Delete(idOrAlias string) error {
	id, err := s.ResolveID(idOrAlias)
	if err != nil {
		return err
	}
	return s.kv.Update(func(txn *badger.Txn) error {
		return s.DeleteTxn(txn, id)
	})
}

// DeleteTxn removes a session within a caller-supplied transaction so batch
// deletes stay atomic.
func (s *Store) DeleteTxn(txn *badger.Txn, id int) error {
	var rec Record
	found, err := kv.GetJSON(txn, sessionKey(id), &rec)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}
	if rec.Alias != "" {
		if err := txn.Delete([]byte(aliasPrefix + rec.Alias)); err != nil {
			return err
		}
	}
	return txn.Delete([]byte(sessionKey(id)))
}

// DeleteAll removes every stored session in one transaction.
func (s *Store) DeleteAll() error {
	return s.kv.Update(func(txn *badger.Txn) error {
		ids, err := idsTxn(txn)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := s.DeleteTxn(txn, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// PruneEmpty deletes every session whose message history is empty. Run at
// startup to garbage-collect sessions that were created but never used.
func (s *Store) PruneEmpty() error {
	pruned := 0
	err := s.kv.Update(func(txn *badger.Txn) error {
		var empty []int
		err := kv.ScanPrefix(txn, sessionPrefix, 1, func(key string, value []byte) error {
			var rec Record
			if err := json.Unmarshal(value, &rec); err != nil {
				return err
			}
			if len(rec.History) == 0 {
				empty = append(empty, rec.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, id := range empty {
			if err := s.DeleteTxn(txn, id); err != nil {
				return err
			}
		}
		pruned = len(empty)
		return nil
	})
	if err == nil && pruned > 0 {
		s.logger.Debug("Pruned empty sessions", "count", pruned)
	}
	return err
}

// NextSessionID returns the id cyclically following current in ascending
// order, for stepping through saved sessions.
func (s *Store) NextSessionID(current int) (int, error) {
	ids, err := s.ids()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, ErrUnknownSession
	}
	for _, id := range ids {
		if id > current {
			return id, nil
		}
	}
	return ids[0], nil
}

// PreviousSessionID returns the id cyclically preceding current in
// ascending order.
func (s *Store) PreviousSessionID(current int) (int, error) {
	ids, err := s.ids()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, ErrUnknownSession
	}
	for i := len(ids) - 1; i >= 0; i-- {
		if ids[i] < current {
			return ids[i], nil
		}
	}
	return ids[len(ids)-1], nil
}

func (s *Store) ids() ([]int, error) {
	var ids []int
	err := s.kv.View(func(txn *badger.Txn) error {
		var err error
		ids, err = idsTxn(txn)
		return err
	})
	return ids, err
}

// idsTxn returns every stored session id in ascending order.
func idsTxn(txn *badger.Txn) ([]int, error) {
	var ids []int
	err := kv.ScanPrefix(txn, sessionPrefix, 1, func(key string, _ []byte) error {
		id, err := parseSessionKey(key)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	return ids, err
}
