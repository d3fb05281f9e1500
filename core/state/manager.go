package state

import (
	"errors"
	"sync"

	"safehands/storage"
)

// Manager mediates all reads and writes between the engine and the backing
// key-value database. It owns the escrow record table, the party reverse
// index, the id counter and the account ledger. A single Manager instance is
// safe for concurrent use; the id counter and index updates are serialized
// internally.
type Manager struct {
	db storage.Database

	idMu    sync.Mutex
	indexMu sync.Mutex
}

// NewManager wraps the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	value, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}
