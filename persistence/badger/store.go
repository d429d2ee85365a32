// Package badger implements the event log and snapshot store on an
// embedded badger database, for single node deployments that need
// durability without a redis.
package badger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"github.com/weftlabs/weft/model"
	"github.com/weftlabs/weft/persistence"
	"github.com/weftlabs/weft/util"
)

type Store struct {
	db         *badger.DB
	eventCodec util.EncoderDecoder[model.Event]
	snapCodec  util.EncoderDecoder[model.Snapshot]
}

var _ persistence.EventLog = new(Store)
var _ persistence.SnapshotStore = new(Store)

func NewStore(dataDir string) (*Store, error) {
	opts := badger.DefaultOptions(dataDir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger at %s: %w", dataDir, err)
	}
	return &Store{
		db:         db,
		eventCodec: util.NewJsonEncoderDecoder[model.Event](),
		snapCodec:  util.NewJsonEncoderDecoder[model.Snapshot](),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func eventKey(runID string, sequence int64) []byte {
	return []byte(fmt.Sprintf("run:%s:event:%020d", runID, sequence))
}

func eventPrefix(runID string) []byte {
	return []byte(fmt.Sprintf("run:%s:event:", runID))
}

func snapshotKey(runID string) []byte {
	return []byte(fmt.Sprintf("run:%s:snapshot", runID))
}

func runIndexKey(runID string) []byte {
	return []byte(fmt.Sprintf("runindex:%s", runID))
}

// Append writes the batch in a single transaction, all or nothing.
func (s *Store) Append(runID string, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, ev := range events {
			data, err := s.eventCodec.Encode(ev)
			if err != nil {
				return err
			}
			if err := txn.Set(eventKey(runID, ev.Sequence), data); err != nil {
				return err
			}
		}
		return txn.Set(runIndexKey(runID), []byte{})
	})
	if err != nil {
		return model.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Store) Read(runID string, fromSequence int64) ([]model.Event, error) {
	var events []model.Event
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = eventPrefix(runID)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(eventKey(runID, fromSequence)); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				ev, err := s.eventCodec.Decode(val)
				if err != nil {
					return err
				}
				events = append(events, *ev)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, model.StorageLayerError{Message: err.Error()}
	}
	return events, nil
}

func (s *Store) HighestSequence(runID string) (int64, error) {
	var highest int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = eventPrefix(runID)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		// seek past the last possible sequence key for this run
		seek := append(eventPrefix(runID), 0xff)
		it.Seek(seek)
		if !it.Valid() {
			return nil
		}
		key := string(it.Item().Key())
		seqPart := key[strings.LastIndex(key, ":")+1:]
		_, err := fmt.Sscanf(seqPart, "%d", &highest)
		return err
	})
	if err != nil {
		return 0, model.StorageLayerError{Message: err.Error()}
	}
	return highest, nil
}

func (s *Store) Runs() ([]string, error) {
	var runs []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("runindex:")
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			runs = append(runs, strings.TrimPrefix(key, "runindex:"))
		}
		return nil
	})
	if err != nil {
		return nil, model.StorageLayerError{Message: err.Error()}
	}
	return runs, nil
}

func (s *Store) Put(runID string, snapshot model.Snapshot) error {
	data, err := s.snapCodec.Encode(snapshot)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(runID), data)
	})
	if err != nil {
		return model.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Store) GetLatest(runID string) (*model.Snapshot, error) {
	var snap *model.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(runID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snap, err = s.snapCodec.Decode(val)
			return err
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, persistence.ErrNoSnapshot
		}
		return nil, model.StorageLayerError{Message: err.Error()}
	}
	return snap, nil
}

func (s *Store) Delete(runID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(snapshotKey(runID))
	})
	if err != nil {
		return model.StorageLayerError{Message: err.Error()}
	}
	return nil
}
