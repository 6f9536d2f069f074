package vault

import "errors"

var (
	// ErrAlreadyInitialized is returned when initialize is called for an
	// owner whose vault already exists.
	ErrAlreadyInitialized = errors.New("vault: already initialized")
	// ErrUninitialized is returned when an operation targets an owner with
	// no vault account.
	ErrUninitialized = errors.New("vault: not initialized")
	// ErrInvalidAmount rejects zero, negative or missing amounts before any
	// state is touched.
	ErrInvalidAmount = errors.New("vault: amount must be positive")
	// ErrInsufficientFunds is returned when a debit exceeds the funding
	// account's balance.
	ErrInsufficientFunds = errors.New("vault: insufficient funds")

	errNilState = errors.New("vault engine: state not configured")
)
