package services

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match these with errors.Is; the specific errors
// below wrap exactly one kind.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidState      = errors.New("invalid state")
)

var (
	ErrInvalidStake           = fmt.Errorf("%w: stake must be positive", ErrInvalidInput)
	ErrInvalidChoice          = fmt.Errorf("%w: choice outside outcome domain", ErrInvalidInput)
	ErrInvalidAmount          = fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	ErrInvalidMethod          = fmt.Errorf("%w: unknown payment method", ErrInvalidInput)
	ErrBelowMinimumWithdrawal = fmt.Errorf("%w: below minimum withdrawal", ErrInvalidInput)
	ErrPhoneTaken             = fmt.Errorf("%w: phone already registered", ErrInvalidInput)

	ErrAccountNotFound       = fmt.Errorf("%w: account", ErrNotFound)
	ErrWagerNotFound         = fmt.Errorf("%w: wager", ErrNotFound)
	ErrRoundNotFound         = fmt.Errorf("%w: round", ErrNotFound)
	ErrDepositNotFound       = fmt.Errorf("%w: deposit", ErrNotFound)
	ErrWithdrawalNotFound    = fmt.Errorf("%w: withdrawal", ErrNotFound)
	ErrPaymentMethodNotFound = fmt.Errorf("%w: payment method", ErrNotFound)

	ErrWagerNotOwned = fmt.Errorf("%w: wager belongs to another account", ErrUnauthorized)

	ErrBettingClosed        = fmt.Errorf("%w: betting_closed", ErrInvalidState)
	ErrRoundClosed          = fmt.Errorf("%w: round_closed", ErrInvalidState)
	ErrRoundOpen            = fmt.Errorf("%w: round_open", ErrInvalidState)
	ErrDepositNotPending    = fmt.Errorf("%w: deposit_not_pending", ErrInvalidState)
	ErrWithdrawalNotPending = fmt.Errorf("%w: withdrawal_not_pending", ErrInvalidState)
)
