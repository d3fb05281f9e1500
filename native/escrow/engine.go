package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"safehands/core/events"
	"safehands/core/types"
)

var errNilState = errors.New("escrow engine: state not configured")

type engineState interface {
	EscrowNextID() (uint64, error)
	EscrowPut(*Escrow) error
	EscrowGet(id uint64) (*Escrow, bool)
	EscrowIndexAdd(party [20]byte, id uint64) error
	EscrowIDsForParty(party [20]byte) ([]uint64, error)
	EscrowVaultAddress(asset string) ([20]byte, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the escrow lifecycle logic with external state and event
// emitters. All mutating methods are check-then-commit: every validation runs
// before any fund movement or store write, and a failed transfer aborts the
// call with nothing persisted.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadEscrow(id uint64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.EscrowPut(esc)
}

func (e *Engine) transferAsset(from, to [20]byte, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive amount", ErrTransferFailed)
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if fromAcc.Balance(asset).Cmp(amt) < 0 {
		return fmt.Errorf("%w: insufficient %s balance", ErrTransferFailed, asset)
	}
	fromAcc.SetBalance(asset, new(big.Int).Sub(fromAcc.Balance(asset), amt))
	toAcc.SetBalance(asset, new(big.Int).Add(toAcc.Balance(asset), amt))
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.PutAccount(to[:], toAcc); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// Deposit locks the client's funds in the module vault and creates the escrow
// record in StateFunded. A zero arbiter defaults to the client, making
// self-arbitration an explicit, allowed degenerate case. When deadlineDays is
// zero the record carries no deadline and timeout claims are disabled.
func (e *Engine) Deposit(client, freelancer, arbiter [20]byte, asset string, amount *big.Int, deadlineDays uint64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if client == ([20]byte{}) {
		return nil, fmt.Errorf("escrow: client address required")
	}
	if freelancer == ([20]byte{}) {
		return nil, fmt.Errorf("escrow: freelancer address required")
	}
	if arbiter == ([20]byte{}) {
		arbiter = client
	}
	vault, err := e.state.EscrowVaultAddress(normalized)
	if err != nil {
		return nil, err
	}
	now := e.now()
	var deadline int64
	if deadlineDays > 0 {
		if deadlineDays > MaxDeadlineDays {
			return nil, fmt.Errorf("escrow: deadline days must not exceed %d", MaxDeadlineDays)
		}
		deadline = now + int64(deadlineDays)*SecondsPerDay
	}
	// Every write below follows the transfer and has no refund path, so the
	// record must already be known encodable here.
	if err := e.transferAsset(client, vault, normalized, amt); err != nil {
		return nil, err
	}
	id, err := e.state.EscrowNextID()
	if err != nil {
		return nil, err
	}
	esc := &Escrow{
		ID:         id,
		Client:     client,
		Freelancer: freelancer,
		Arbiter:    arbiter,
		Asset:      normalized,
		Amount:     amt,
		Deadline:   deadline,
		CreatedAt:  now,
		State:      StateFunded,
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	if err := e.indexParties(esc); err != nil {
		return nil, err
	}
	e.emit(NewDepositedEvent(esc))
	return esc.Clone(), nil
}

func (e *Engine) indexParties(esc *Escrow) error {
	seen := make(map[[20]byte]struct{}, 3)
	for _, party := range [][20]byte{esc.Client, esc.Freelancer, esc.Arbiter} {
		if _, ok := seen[party]; ok {
			continue
		}
		seen[party] = struct{}{}
		if err := e.state.EscrowIndexAdd(party, esc.ID); err != nil {
			return err
		}
	}
	return nil
}

// Approve records the calling party's consent. Funds move to the freelancer
// only on the call that makes both approvals true; a single approval never
// releases anything. Approvals are monotonic: a repeat call by the same party
// is rejected with ErrAlreadyApproved and mutates nothing.
func (e *Engine) Approve(caller [20]byte, id uint64) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.State != StateFunded {
		return fmt.Errorf("%w: cannot approve in state %s", ErrInvalidState, esc.State)
	}
	switch caller {
	case esc.Client:
		if esc.ApprovedByClient {
			return ErrAlreadyApproved
		}
		esc.ApprovedByClient = true
	case esc.Freelancer:
		if esc.ApprovedByFreelancer {
			return ErrAlreadyApproved
		}
		esc.ApprovedByFreelancer = true
	default:
		return fmt.Errorf("%w: only client or freelancer may approve", ErrUnauthorized)
	}
	released := esc.ApprovedByClient && esc.ApprovedByFreelancer
	if released {
		vault, err := e.state.EscrowVaultAddress(esc.Asset)
		if err != nil {
			return err
		}
		if err := e.transferAsset(vault, esc.Freelancer, esc.Asset, esc.Amount); err != nil {
			return err
		}
		esc.State = StateReleased
	}
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewApprovedEvent(esc, caller))
	if released {
		e.emit(NewReleasedEvent(esc))
	}
	return nil
}

// Cancel refunds the client before the freelancer has signalled completion.
// Only the client may cancel, and only while the record is still Funded with
// no freelancer approval on file.
func (e *Engine) Cancel(caller [20]byte, id uint64) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Client {
		return fmt.Errorf("%w: only client may cancel", ErrUnauthorized)
	}
	if esc.State != StateFunded {
		return fmt.Errorf("%w: cannot cancel in state %s", ErrInvalidState, esc.State)
	}
	if esc.ApprovedByFreelancer {
		return fmt.Errorf("%w: freelancer already approved", ErrInvalidState)
	}
	vault, err := e.state.EscrowVaultAddress(esc.Asset)
	if err != nil {
		return err
	}
	if err := e.transferAsset(vault, esc.Client, esc.Asset, esc.Amount); err != nil {
		return err
	}
	esc.State = StateCancelled
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(esc))
	return nil
}

// Dispute freezes the escrow pending arbiter resolution. Either working party
// may raise it; no funds move.
func (e *Engine) Dispute(caller [20]byte, id uint64) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Client && caller != esc.Freelancer {
		return fmt.Errorf("%w: only parties may raise a dispute", ErrUnauthorized)
	}
	if esc.State != StateFunded {
		return fmt.Errorf("%w: cannot dispute in state %s", ErrInvalidState, esc.State)
	}
	esc.State = StateDisputed
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewDisputedEvent(esc, caller))
	return nil
}

// Resolve settles a disputed escrow in favour of the arbiter-chosen winner.
// The winner must be exactly the record's client or freelancer; an arbiter
// cannot redirect funds to itself or any third party.
func (e *Engine) Resolve(caller [20]byte, id uint64, winner [20]byte) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Arbiter {
		return fmt.Errorf("%w: only arbiter may resolve", ErrUnauthorized)
	}
	if esc.State != StateDisputed {
		return fmt.Errorf("%w: cannot resolve in state %s", ErrInvalidState, esc.State)
	}
	if winner != esc.Client && winner != esc.Freelancer {
		return ErrInvalidWinner
	}
	vault, err := e.state.EscrowVaultAddress(esc.Asset)
	if err != nil {
		return err
	}
	if err := e.transferAsset(vault, winner, esc.Asset, esc.Amount); err != nil {
		return err
	}
	esc.State = StateResolved
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewResolvedEvent(esc, winner))
	return nil
}

// ClaimTimeout is the public sweep for expired escrows: once strictly past
// the deadline, any caller may force a refund to the client from either
// Funded or Disputed. The refund-to-client default holds even mid-dispute so
// a silent arbiter can never permanently strand funds.
func (e *Engine) ClaimTimeout(caller [20]byte, id uint64) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.State != StateFunded && esc.State != StateDisputed {
		return fmt.Errorf("%w: cannot claim timeout in state %s", ErrInvalidState, esc.State)
	}
	if esc.Deadline == 0 {
		return fmt.Errorf("%w: no deadline configured", ErrDeadlineNotReached)
	}
	if e.now() <= esc.Deadline {
		return ErrDeadlineNotReached
	}
	vault, err := e.state.EscrowVaultAddress(esc.Asset)
	if err != nil {
		return err
	}
	if err := e.transferAsset(vault, esc.Client, esc.Asset, esc.Amount); err != nil {
		return err
	}
	esc.State = StateCancelled
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewExpiredEvent(esc, caller))
	return nil
}

// Get returns a copy of the stored record.
func (e *Engine) Get(id uint64) (*Escrow, error) {
	return e.loadEscrow(id)
}

// IDsForParty returns every escrow id where the party participates as client,
// freelancer or arbiter, sorted ascending. Callers wanting recency sort by id
// descending themselves.
func (e *Engine) IDsForParty(party [20]byte) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.EscrowIDsForParty(party)
}
