package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/hupe1980/burrow/config"
	"github.com/hupe1980/burrow/internal/util"
	"github.com/hupe1980/burrow/kv"
	"github.com/hupe1980/burrow/logging"
)

var (
	// ErrNotFound is returned when an agent or task id has no record.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCounter is returned when increment or decrement hits a key
	// holding a non-integer value.
	ErrInvalidCounter = errors.New("counter value is not an integer")
)

// Agent is a stored agent definition.
type Agent struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Model        string `json:"model,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Task is a stored unit of work belonging to an agent.
type Task struct {
	ID      string `json:"id"`
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	Prompt  string `json:"prompt,omitempty"`
}

func agentKey(agentID string) string {
	return "agent:" + agentID
}

func taskKey(agentID, taskID string) string {
	return fmt.Sprintf("tasks:%s:%s", agentID, taskID)
}

func kvKey(agentID, key string) string {
	return fmt.Sprintf("kv:%s:%s", agentID, key)
}

// Store persists agents, tasks and per-agent values.
type Store struct {
	kv     *kv.Store
	logger logging.Logger
}

// NewStore opens the agent database at the configured path and size.
func NewStore(cfg *config.Config, logger logging.Logger) (*Store, error) {
	logger = logging.OrNoOp(logger)

	path := util.ExpandHome(cfg.String("database.agents.path"))
	size := cfg.Int64("database.agents.size")

	db, err := kv.Open(path, size, logger)
	if err != nil {
		return nil, err
	}
	return &Store{kv: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.kv.Close()
}

// Agents returns every stored agent definition. Keys deeper than the flat
// "agent:{id}" layout are ignored.
func (s *Store) Agents() ([]Agent, error) {
	var agents []Agent
	err := s.kv.View(func(txn *badger.Txn) error {
		return kv.ScanPrefix(txn, "agent:", 1, func(_ string, value []byte) error {
			var a Agent
			if err := json.Unmarshal(value, &a); err != nil {
				return err
			}
			agents = append(agents, a)
			return nil
		})
	})
	return agents, err
}

// AgentByID loads one agent definition.
func (s *Store) AgentByID(agentID string) (*Agent, error) {
	var a Agent
	found, err := s.kv.GetJSON(agentKey(agentID), &a)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("agent %q: %w", agentID, ErrNotFound)
	}
	return &a, nil
}

// UpdateAgent writes (or overwrites) an agent definition.
func (s *Store) UpdateAgent(a *Agent) error {
	return s.kv.SetJSON(agentKey(a.ID), a)
}

// Tasks returns every task belonging to agentID. Keys deeper than the flat
// "tasks:{agentId}:{taskId}" layout are ignored.
func (s *Store) Tasks(agentID string) ([]Task, error) {
	var tasks []Task
	err := s.kv.View(func(txn *badger.Txn) error {
		return kv.ScanPrefix(txn, "tasks:"+agentID+":", 2, func(_ string, value []byte) error {
			var t Task
			if err := json.Unmarshal(value, &t); err != nil {
				return err
			}
			tasks = append(tasks, t)
			return nil
		})
	})
	return tasks, err
}

// TaskByID loads one task record.
func (s *Store) TaskByID(agentID, taskID string) (*Task, error) {
	var t Task
	found, err := s.kv.GetJSON(taskKey(agentID, taskID), &t)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("task %q of agent %q: %w", taskID, agentID, ErrNotFound)
	}
	return &t, nil
}

// UpdateTask writes (or overwrites) a task record.
func (s *Store) UpdateTask(t *Task) error {
	return s.kv.SetJSON(taskKey(t.AgentID, t.ID), t)
}

// SetKV stores an arbitrary per-agent value.
func (s *Store) SetKV(agentID, key string, value any) error {
	return s.kv.SetJSON(kvKey(agentID, key), value)
}

// GetKV loads a per-agent value into out, reporting whether it existed.
func (s *Store) GetKV(agentID, key string, out any) (bool, error) {
	return s.kv.GetJSON(kvKey(agentID, key), out)
}

// Increment atomically adds amount to the integer at the agent's kv key and
// returns the new value. An absent key counts as 0. The read-modify-write
// runs in a single write transaction.
func (s *Store) Increment(agentID, key string, amount int64) (int64, error) {
	var updated int64
	err := s.kv.Update(func(txn *badger.Txn) error {
		current, err := readCounter(txn, kvKey(agentID, key))
		if err != nil {
			return err
		}
		updated = current + amount
		return kv.SetJSON(txn, kvKey(agentID, key), updated)
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// Decrement atomically subtracts amount from the integer at the agent's kv
// key and returns the new value.
func (s *Store) Decrement(agentID, key string, amount int64) (int64, error) {
	return s.Increment(agentID, key, -amount)
}

func readCounter(txn *badger.Txn, key string) (int64, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var current int64
	if err := item.Value(func(val []byte) error {
		dec := json.NewDecoder(bytes.NewReader(val))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("%w: key %s", ErrInvalidCounter, key)
		}
		num, ok := v.(json.Number)
		if !ok {
			return fmt.Errorf("%w: key %s holds %T", ErrInvalidCounter, key, v)
		}
		n, err := strconv.ParseInt(num.String(), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: key %s holds %s", ErrInvalidCounter, key, num)
		}
		current = n
		return nil
	}); err != nil {
		return 0, err
	}
	return current, nil
}

// DeleteAgent removes the agent definition and cascades across its tasks
// and kv entries in one transaction.
func (s *Store) DeleteAgent(agentID string) error {
	return s.kv.Update(func(txn *badger.Txn) error {
		doomed := []string{agentKey(agentID)}
		for _, prefix := range []string{"agent:" + agentID + ":", "tasks:" + agentID + ":", "kv:" + agentID + ":"} {
			err := kv.ScanPrefix(txn, prefix, -1, func(key string, _ []byte) error {
				doomed = append(doomed, key)
				return nil
			})
			if err != nil {
				return err
			}
		}
		for _, key := range doomed {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		s.logger.Debug("Deleted agent", "agent_id", agentID, "keys", len(doomed))
		return nil
	})
}
