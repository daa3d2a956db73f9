package ledger

import "errors"

// Every failure the engine can surface is one of these sentinels, possibly
// wrapped with context. Callers match with errors.Is; only ErrTransient is
// safe to retry.
var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrNotFound          = errors.New("account not found")
	ErrAlreadyExists     = errors.New("account already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTransient         = errors.New("storage temporarily unavailable")
)
