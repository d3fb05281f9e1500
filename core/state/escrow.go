package state

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"safehands/native/escrow"
)

var (
	escrowRecordPrefix = []byte("escrow/record/")
	escrowIndexPrefix  = []byte("escrow/index/")
	escrowVaultPrefix  = []byte("escrow/vault/")
	escrowNextIDKey    = []byte("escrow/next-id")
)

func escrowStorageKey(id uint64) []byte {
	buf := make([]byte, len(escrowRecordPrefix)+8)
	copy(buf, escrowRecordPrefix)
	binary.BigEndian.PutUint64(buf[len(escrowRecordPrefix):], id)
	return ethcrypto.Keccak256(buf)
}

func escrowIndexKey(party [20]byte) []byte {
	buf := make([]byte, len(escrowIndexPrefix)+len(party))
	copy(buf, escrowIndexPrefix)
	copy(buf[len(escrowIndexPrefix):], party[:])
	return ethcrypto.Keccak256(buf)
}

// storedEscrow is the RLP wire form of an escrow record. Signed timestamps
// are carried as big integers because RLP only encodes unsigned values.
type storedEscrow struct {
	ID                   uint64
	Client               [20]byte
	Freelancer           [20]byte
	Arbiter              [20]byte
	Asset                string
	Amount               *big.Int
	ApprovedByClient     bool
	ApprovedByFreelancer bool
	Deadline             *big.Int
	CreatedAt            *big.Int
	State                uint8
}

func newStoredEscrow(e *escrow.Escrow) *storedEscrow {
	if e == nil {
		return nil
	}
	amount := big.NewInt(0)
	if e.Amount != nil {
		amount = new(big.Int).Set(e.Amount)
	}
	return &storedEscrow{
		ID:                   e.ID,
		Client:               e.Client,
		Freelancer:           e.Freelancer,
		Arbiter:              e.Arbiter,
		Asset:                e.Asset,
		Amount:               amount,
		ApprovedByClient:     e.ApprovedByClient,
		ApprovedByFreelancer: e.ApprovedByFreelancer,
		Deadline:             big.NewInt(e.Deadline),
		CreatedAt:            big.NewInt(e.CreatedAt),
		State:                uint8(e.State),
	}
}

func (s *storedEscrow) toEscrow() (*escrow.Escrow, error) {
	if s == nil {
		return nil, fmt.Errorf("escrow: nil storage record")
	}
	out := &escrow.Escrow{
		ID:                   s.ID,
		Client:               s.Client,
		Freelancer:           s.Freelancer,
		Arbiter:              s.Arbiter,
		Asset:                s.Asset,
		Amount:               big.NewInt(0),
		ApprovedByClient:     s.ApprovedByClient,
		ApprovedByFreelancer: s.ApprovedByFreelancer,
		State:                escrow.EscrowState(s.State),
	}
	if s.Amount != nil {
		out.Amount = new(big.Int).Set(s.Amount)
	}
	if s.Deadline != nil {
		out.Deadline = s.Deadline.Int64()
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	if !out.State.Valid() {
		return nil, fmt.Errorf("escrow: invalid stored state %d", s.State)
	}
	return out, nil
}

// EscrowNextID allocates a fresh identifier strictly greater than any issued
// before, persisting the counter so ids never repeat across restarts. The
// first allocated id is 1.
func (m *Manager) EscrowNextID() (uint64, error) {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	var current uint64
	raw, ok, err := m.get(escrowNextIDKey)
	if err != nil {
		return 0, err
	}
	if ok {
		if len(raw) != 8 {
			return 0, fmt.Errorf("escrow: malformed id counter")
		}
		current = binary.BigEndian.Uint64(raw)
	}
	next := current + 1
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := m.db.Put(escrowNextIDKey, buf); err != nil {
		return 0, err
	}
	return next, nil
}

// EscrowPut validates and persists the record under its id.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(newStoredEscrow(sanitized))
	if err != nil {
		return fmt.Errorf("escrow: encode record: %w", err)
	}
	return m.db.Put(escrowStorageKey(sanitized.ID), encoded)
}

// EscrowGet returns a copy of the stored record, or false when the id was
// never issued.
func (m *Manager) EscrowGet(id uint64) (*escrow.Escrow, bool) {
	raw, ok, err := m.get(escrowStorageKey(id))
	if err != nil || !ok {
		return nil, false
	}
	var stored storedEscrow
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false
	}
	decoded, err := stored.toEscrow()
	if err != nil {
		return nil, false
	}
	return decoded, true
}

// EscrowIndexAdd records the party's participation in the escrow. Inserting
// the same pair twice is a no-op; concurrent inserts for different ids
// touching the same party are serialized by the index mutex.
func (m *Manager) EscrowIndexAdd(party [20]byte, id uint64) error {
	m.indexMu.Lock()
	defer m.indexMu.Unlock()
	ids, err := m.escrowIDsLocked(party)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	encoded, err := rlp.EncodeToBytes(ids)
	if err != nil {
		return fmt.Errorf("escrow: encode index: %w", err)
	}
	return m.db.Put(escrowIndexKey(party), encoded)
}

// EscrowIDsForParty returns every escrow id the party participates in, sorted
// ascending. Higher id means newer record.
func (m *Manager) EscrowIDsForParty(party [20]byte) ([]uint64, error) {
	m.indexMu.Lock()
	defer m.indexMu.Unlock()
	return m.escrowIDsLocked(party)
}

func (m *Manager) escrowIDsLocked(party [20]byte) ([]uint64, error) {
	raw, ok, err := m.get(escrowIndexKey(party))
	if err != nil {
		return nil, err
	}
	if !ok {
		return []uint64{}, nil
	}
	var ids []uint64
	if err := rlp.DecodeBytes(raw, &ids); err != nil {
		return nil, fmt.Errorf("escrow: decode index: %w", err)
	}
	return ids, nil
}

// EscrowVaultAddress derives the deterministic module custody address that
// holds locked funds for the asset.
func (m *Manager) EscrowVaultAddress(asset string) ([20]byte, error) {
	normalized, err := escrow.NormalizeAsset(asset)
	if err != nil {
		return [20]byte{}, err
	}
	seed := make([]byte, len(escrowVaultPrefix)+len(normalized))
	copy(seed, escrowVaultPrefix)
	copy(seed[len(escrowVaultPrefix):], normalized)
	digest := ethcrypto.Keccak256(seed)
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr, nil
}
