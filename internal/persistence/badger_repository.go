package persistence

import (
	"amm-volume-bot/internal/models"
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v3"
)

const (
	latestKey     = "session:latest"
	sessionPrefix = "session:run:"
)

// badgerRepository is the BadgerDB implementation of the StateRepository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository opens a BadgerDB at dbPath. An empty path opens an in-memory database.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	if dbPath == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerRepository{db: db}, nil
}

// SaveState writes the state under the latest key and its run key in one transaction.
func (r *badgerRepository) SaveState(state *models.BotState) error {
	if state == nil {
		return errors.New("cannot save nil state")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(latestKey), data); err != nil {
			return err
		}
		if state.RunID == "" {
			return nil
		}
		return txn.Set([]byte(sessionPrefix+state.RunID), data)
	})
}

func (r *badgerRepository) LoadState() (*models.BotState, error) {
	return r.load([]byte(latestKey))
}

func (r *badgerRepository) LoadSession(runID string) (*models.BotState, error) {
	return r.load([]byte(sessionPrefix + runID))
}

// load returns (nil, nil) when the key does not exist.
func (r *badgerRepository) load(key []byte) (*models.BotState, error) {
	var state models.BotState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
