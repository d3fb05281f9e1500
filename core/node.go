package core

import (
	"math/big"
	"sync"
	"time"

	"safehands/core/events"
	"safehands/core/state"
	"safehands/core/types"
	"safehands/native/escrow"
	"safehands/storage"
)

// maxBufferedEvents bounds the in-memory event history served over RPC.
const maxBufferedEvents = 4096

// Node owns the database, the state manager and the escrow engine, and
// serializes every mutating call behind a single state mutex so each action
// behaves as an atomic check-and-commit against the record it touches.
type Node struct {
	db    storage.Database
	state *state.Manager

	stateMu sync.Mutex
	nowFn   func() int64

	eventsMu sync.RWMutex
	events   []types.Event
}

// NewNode constructs a node on top of the provided database.
func NewNode(db storage.Database) *Node {
	return &Node{
		db:    db,
		state: state.NewManager(db),
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the node's time source. Intended for tests.
func (n *Node) SetNowFunc(now func() int64) {
	if now == nil {
		n.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	n.nowFn = now
}

type eventCarrier interface {
	Event() *types.Event
}

type nodeEventEmitter struct {
	node *Node
}

func (e nodeEventEmitter) Emit(payload events.Event) {
	carrier, ok := payload.(eventCarrier)
	if !ok {
		return
	}
	evt := carrier.Event()
	if evt == nil {
		return
	}
	e.node.appendEvent(*evt)
}

func (n *Node) appendEvent(evt types.Event) {
	n.eventsMu.Lock()
	defer n.eventsMu.Unlock()
	n.events = append(n.events, evt)
	if len(n.events) > maxBufferedEvents {
		n.events = n.events[len(n.events)-maxBufferedEvents:]
	}
}

// Events returns a copy of the buffered event history, oldest first.
func (n *Node) Events() []types.Event {
	n.eventsMu.RLock()
	defer n.eventsMu.RUnlock()
	out := make([]types.Event, len(n.events))
	copy(out, n.events)
	return out
}

func (n *Node) newEscrowEngine() *escrow.Engine {
	engine := escrow.NewEngine()
	engine.SetState(n.state)
	engine.SetEmitter(nodeEventEmitter{node: n})
	engine.SetNowFunc(n.nowFn)
	return engine
}

func (n *Node) EscrowDeposit(client, freelancer, arbiter [20]byte, asset string, amount *big.Int, deadlineDays uint64) (*escrow.Escrow, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine().Deposit(client, freelancer, arbiter, asset, amount, deadlineDays)
}

func (n *Node) EscrowApprove(caller [20]byte, id uint64) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine().Approve(caller, id)
}

func (n *Node) EscrowCancel(caller [20]byte, id uint64) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine().Cancel(caller, id)
}

func (n *Node) EscrowDispute(caller [20]byte, id uint64) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine().Dispute(caller, id)
}

func (n *Node) EscrowResolve(caller [20]byte, id uint64, winner [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine().Resolve(caller, id, winner)
}

func (n *Node) EscrowClaimTimeout(caller [20]byte, id uint64) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine().ClaimTimeout(caller, id)
}

func (n *Node) EscrowGet(id uint64) (*escrow.Escrow, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine().Get(id)
}

func (n *Node) EscrowIDsForParty(party [20]byte) ([]uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine().IDsForParty(party)
}

// GetAccount returns the ledger account for the address.
func (n *Node) GetAccount(addr []byte) (*types.Account, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.GetAccount(addr)
}
