package state

import (
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"safehands/native/escrow"
	"safehands/storage"
)

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func testRecord(id uint64) *escrow.Escrow {
	return &escrow.Escrow{
		ID:         id,
		Client:     testAddress(0x01),
		Freelancer: testAddress(0x02),
		Arbiter:    testAddress(0x03),
		Asset:      "XLM",
		Amount:     big.NewInt(1000),
		Deadline:   1_700_100_000,
		CreatedAt:  1_700_000_000,
		State:      escrow.StateFunded,
	}
}

func TestEscrowNextIDIsMonotonic(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	first, err := manager.EscrowNextID()
	require.NoError(t, err)
	require.Equal(t, uint64(1), first)

	second, err := manager.EscrowNextID()
	require.NoError(t, err)
	require.Equal(t, uint64(2), second)
}

func TestEscrowNextIDSurvivesReopen(t *testing.T) {
	db := storage.NewMemDB()
	manager := NewManager(db)
	_, err := manager.EscrowNextID()
	require.NoError(t, err)

	reopened := NewManager(db)
	id, err := reopened.EscrowNextID()
	require.NoError(t, err)
	require.Equal(t, uint64(2), id)
}

func TestEscrowNextIDUnderConcurrency(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	const workers = 16
	const perWorker = 25
	seen := make(chan uint64, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id, err := manager.EscrowNextID()
				if err != nil {
					t.Error(err)
					return
				}
				seen <- id
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]struct{}, workers*perWorker)
	for id := range seen {
		_, dup := unique[id]
		require.False(t, dup, "id %d issued twice", id)
		unique[id] = struct{}{}
	}
	require.Len(t, unique, workers*perWorker)
}

func TestEscrowPutGetRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	record := testRecord(1)
	record.ApprovedByFreelancer = true

	require.NoError(t, manager.EscrowPut(record))

	got, ok := manager.EscrowGet(1)
	require.True(t, ok)
	require.Equal(t, record.ID, got.ID)
	require.Equal(t, record.Client, got.Client)
	require.Equal(t, record.Freelancer, got.Freelancer)
	require.Equal(t, record.Arbiter, got.Arbiter)
	require.Equal(t, record.Asset, got.Asset)
	require.Zero(t, record.Amount.Cmp(got.Amount))
	require.True(t, got.ApprovedByFreelancer)
	require.False(t, got.ApprovedByClient)
	require.Equal(t, record.Deadline, got.Deadline)
	require.Equal(t, record.CreatedAt, got.CreatedAt)
	require.Equal(t, record.State, got.State)
}

func TestEscrowGetUnknownID(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	_, ok := manager.EscrowGet(99)
	require.False(t, ok)
}

func TestEscrowPutRejectsInvalidRecord(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	record := testRecord(1)
	record.Amount = big.NewInt(0)
	require.Error(t, manager.EscrowPut(record))
}

func TestEscrowGetReturnsCopies(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	require.NoError(t, manager.EscrowPut(testRecord(1)))

	first, ok := manager.EscrowGet(1)
	require.True(t, ok)
	first.Amount.SetInt64(1)
	first.State = escrow.StateReleased

	second, ok := manager.EscrowGet(1)
	require.True(t, ok)
	require.Zero(t, second.Amount.Cmp(big.NewInt(1000)))
	require.Equal(t, escrow.StateFunded, second.State)
}

func TestEscrowIndexDeduplicatesAndSorts(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	party := testAddress(0x07)

	require.NoError(t, manager.EscrowIndexAdd(party, 5))
	require.NoError(t, manager.EscrowIndexAdd(party, 2))
	require.NoError(t, manager.EscrowIndexAdd(party, 5))
	require.NoError(t, manager.EscrowIndexAdd(party, 9))

	ids, err := manager.EscrowIDsForParty(party)
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 5, 9}, ids)
}

func TestEscrowIndexConcurrentInsertsSameParty(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	party := testAddress(0x08)

	const inserts = 50
	var wg sync.WaitGroup
	for i := 1; i <= inserts; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			if err := manager.EscrowIndexAdd(party, id); err != nil {
				t.Error(err)
			}
		}(uint64(i))
	}
	wg.Wait()

	ids, err := manager.EscrowIDsForParty(party)
	require.NoError(t, err)
	require.Len(t, ids, inserts)
}

func TestEscrowIDsForUnknownParty(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	ids, err := manager.EscrowIDsForParty(testAddress(0x09))
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestEscrowVaultAddressIsDeterministic(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	xlm1, err := manager.EscrowVaultAddress("XLM")
	require.NoError(t, err)
	xlm2, err := manager.EscrowVaultAddress("xlm")
	require.NoError(t, err)
	require.Equal(t, xlm1, xlm2)

	usdc, err := manager.EscrowVaultAddress("USDC")
	require.NoError(t, err)
	require.NotEqual(t, xlm1, usdc)

	_, err = manager.EscrowVaultAddress("")
	require.Error(t, err)
}
