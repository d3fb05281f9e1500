package escrow

import "errors"

// The engine surfaces every rejection as one of these sentinel values,
// optionally wrapped with call-specific context. Callers match with
// errors.Is; the RPC layer maps each sentinel to a distinct error code so a
// client can render the exact reason.
var (
	ErrNotFound           = errors.New("escrow: not found")
	ErrUnauthorized       = errors.New("escrow: unauthorized caller")
	ErrInvalidState       = errors.New("escrow: invalid state for action")
	ErrAlreadyApproved    = errors.New("escrow: party already approved")
	ErrDeadlineNotReached = errors.New("escrow: deadline not reached")
	ErrInvalidWinner      = errors.New("escrow: winner must be client or freelancer")
	ErrInvalidAmount      = errors.New("escrow: amount must be positive")
	ErrTransferFailed     = errors.New("escrow: transfer failed")
)
