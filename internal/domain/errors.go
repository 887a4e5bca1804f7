package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	// Market ledger errors. All but ErrInconsistentLedger are recoverable by
	// the caller correcting the request.
	ErrInvalidMarket           = errors.New("invalid market definition")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrBetLimit                = errors.New("bet limit exceeded")
	ErrInvalidParticipant      = errors.New("invalid participant")
	ErrInvalidState            = errors.New("operation not allowed in current market state")
	ErrUnknownOutcome          = errors.New("unknown outcome")
	ErrInvalidOutcome          = errors.New("invalid resolution outcome")
	ErrMarketClosed            = errors.New("market closed to new bets")
	ErrAlreadyResolved         = errors.New("market already resolved")
	ErrIllegalTransition       = errors.New("illegal state transition")
	ErrInsufficientEntitlement = errors.New("insufficient entitlement")

	// ErrInconsistentLedger means an invariant was violated. The affected
	// market is halted until reconciled by an operator.
	ErrInconsistentLedger = errors.New("inconsistent ledger")
)
