package exception

import "errors"

// Ledger errors
var (
	ErrLedgerDuplicateOrder    = errors.New("ledger: order already exists")
	ErrLedgerUnknownOrder      = errors.New("ledger: order not found")
	ErrLedgerInvalidTransition = errors.New("ledger: invalid order state transition")
	ErrLedgerInvalidFill       = errors.New("ledger: invalid fill quantity")
	ErrLedgerDuplicateFill     = errors.New("ledger: fill already applied")
	ErrLedgerNegativeCash      = errors.New("ledger: cash may not go negative")
	ErrLedgerNegativePosition  = errors.New("ledger: position may not go negative")
	ErrLedgerOverflow          = errors.New("ledger: scaled arithmetic overflow")
)

// Venue errors
var (
	ErrLiveNotEnabled      = errors.New("venue: live dispatch not enabled")
	ErrNoAdapterForMode    = errors.New("venue: no adapter registered for mode")
	ErrAdapterTimeout      = errors.New("venue: adapter timed out")
	ErrCancelAfterTerminal = errors.New("venue: cancel on terminal order")
)
