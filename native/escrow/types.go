package escrow

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// EscrowState represents the lifecycle states of an escrow record. StateFunded
// is the only initial state; Released, Cancelled and Resolved are terminal.
type EscrowState uint8

const (
	StateFunded EscrowState = iota
	StateReleased
	StateCancelled
	StateDisputed
	StateResolved
)

// SecondsPerDay converts the deadline offset supplied at deposit time into an
// absolute unix timestamp.
const SecondsPerDay int64 = 86_400

// MaxDeadlineDays caps the reclaim horizon at a century. Offsets beyond it
// would push the unix deadline arithmetic toward int64 overflow, so deposits
// reject them before any funds move.
const MaxDeadlineDays uint64 = 36_500

// Escrow captures the immutable terms and runtime status of a single escrow
// agreement. Identifiers are assigned sequentially at deposit time; higher id
// means newer record.
type Escrow struct {
	ID                   uint64
	Client               [20]byte
	Freelancer           [20]byte
	Arbiter              [20]byte
	Asset                string
	Amount               *big.Int
	ApprovedByClient     bool
	ApprovedByFreelancer bool
	Deadline             int64
	CreatedAt            int64
	State                EscrowState
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Terminal reports whether the record can never transition again.
func (s EscrowState) Terminal() bool {
	switch s {
	case StateReleased, StateCancelled, StateResolved:
		return true
	default:
		return false
	}
}

// Valid reports whether the state value is within the supported range.
func (s EscrowState) Valid() bool {
	switch s {
	case StateFunded, StateReleased, StateCancelled, StateDisputed, StateResolved:
		return true
	default:
		return false
	}
}

// String renders the state the way the presentation layer expects it.
func (s EscrowState) String() string {
	switch s {
	case StateFunded:
		return "funded"
	case StateReleased:
		return "released"
	case StateCancelled:
		return "cancelled"
	case StateDisputed:
		return "disputed"
	case StateResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

var assetSymbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,11}$`)

// NormalizeAsset validates the supplied asset symbol and returns its canonical
// uppercase form. Symbols are short tickers such as "XLM" or "USDC".
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if !assetSymbolPattern.MatchString(trimmed) {
		return "", fmt.Errorf("invalid escrow asset symbol: %q", symbol)
	}
	return trimmed, nil
}

// SanitizeEscrow validates and normalises the supplied escrow record,
// returning a cloned instance with canonical asset casing and a non-nil
// amount. The function does not mutate the original value.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	asset, err := NormalizeAsset(clone.Asset)
	if err != nil {
		return nil, err
	}
	clone.Asset = asset
	if clone.Amount == nil || clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("escrow amount must be positive")
	}
	if !clone.State.Valid() {
		return nil, fmt.Errorf("invalid escrow state: %d", clone.State)
	}
	if clone.Client == ([20]byte{}) || clone.Freelancer == ([20]byte{}) {
		return nil, fmt.Errorf("escrow parties must be set")
	}
	if clone.Arbiter == ([20]byte{}) {
		clone.Arbiter = clone.Client
	}
	return clone, nil
}
