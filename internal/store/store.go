// Package store provides a BoltDB-backed session store for node
// connectivity state and the constellation list.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/signalsfoundry/constellation-comms/core"
	"github.com/signalsfoundry/constellation-comms/internal/logging"
	"github.com/signalsfoundry/constellation-comms/model"
)

var (
	nodesBucket          = []byte("nodes")
	constellationsBucket = []byte("constellations")

	constellationsKey = []byte("list")
)

// ErrNotFound is returned when a record is missing.
var ErrNotFound = errors.New("record not found")

// nodeRecordKeys are the top-level keys core.NodeRecord maps. Anything
// else in a stored record is carried in NodeRecord.Extra.
var nodeRecordKeys = map[string]bool{
	"node_id":     true,
	"freq_keys":   true,
	"freq_values": true,
	"policy":      true,
	"membership":  true,
	"antennas":    true,
	"extra":       true,
}

// decodeNode unmarshals a stored node record, keeping keys written by
// older versions in Extra so core.UpgradeRecord can see them.
func decodeNode(data []byte) (core.NodeRecord, error) {
	var rec core.NodeRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return rec, err
	}
	var raw map[string]interface{}
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return rec, err
	}
	for k, v := range raw {
		if nodeRecordKeys[k] {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]string)
		}
		rec.Extra[k] = fmt.Sprint(v)
	}
	return rec, nil
}

// Store wraps a bbolt database holding one session.
type Store struct {
	db  *bolt.DB
	mu  sync.RWMutex
	log logging.Logger
}

// New opens or creates a BoltDB file at the given path, creating the
// parent directory if needed.
func New(path string, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Noop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{nodesBucket, constellationsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, log: log}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveNode inserts or replaces a node record.
func (s *Store) SaveNode(rec core.NodeRecord) error {
	if rec.NodeID == "" {
		return fmt.Errorf("saving node: empty node ID")
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("marshaling node %s: %w", rec.NodeID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(nodesBucket).Put([]byte(rec.NodeID), data)
	})
}

// LoadNode returns one node record.
func (s *Store) LoadNode(nodeID string) (core.NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec core.NodeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(nodesBucket).Get([]byte(nodeID))
		if data == nil {
			return fmt.Errorf("%w: node %s", ErrNotFound, nodeID)
		}
		decoded, err := decodeNode(data)
		if err != nil {
			return fmt.Errorf("%w: node %s: %v", core.ErrBadRecord, nodeID, err)
		}
		rec = decoded
		return nil
	})
	return rec, err
}

// LoadNodes returns every node record sorted by ID. Corrupt records are
// skipped with a warning.
func (s *Store) LoadNodes() ([]core.NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []core.NodeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(nodesBucket).ForEach(func(k, v []byte) error {
			rec, err := decodeNode(v)
			if err != nil {
				s.log.Warn(context.Background(), "skipping corrupt node record",
					logging.String("key", string(k)),
					logging.Err(err),
				)
				return nil
			}
			records = append(records, rec)
			return nil
		})
	})
	sort.Slice(records, func(i, j int) bool { return records[i].NodeID < records[j].NodeID })
	return records, err
}

// DeleteNode removes a node record. Missing records are not an error.
func (s *Store) DeleteNode(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(nodesBucket).Delete([]byte(nodeID))
	})
}

// SaveConstellations replaces the stored constellation list.
func (s *Store) SaveConstellations(list []model.Constellation) error {
	data, err := msgpack.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshaling constellations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(constellationsBucket).Put(constellationsKey, data)
	})
}

// LoadConstellations returns the stored list, or nil if none was saved.
func (s *Store) LoadConstellations() ([]model.Constellation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []model.Constellation
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(constellationsBucket).Get(constellationsKey)
		if data == nil {
			return nil
		}
		if err := msgpack.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("unmarshaling constellations: %w", err)
		}
		return nil
	})
	return list, err
}
