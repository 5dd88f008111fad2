package wallet

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInvalidPaymentMethod   = errors.New("invalid payment method")
	ErrInvalidStatus          = errors.New("invalid top-up status")
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrRequestNotFound        = errors.New("top-up request not found")
	ErrRequestNotPending      = errors.New("top-up request is not pending")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrReasonRequired         = errors.New("reason is required")
	ErrReferenceRequired      = errors.New("reference id is required")
	ErrImmutableTransaction   = errors.New("ledger transactions are immutable")

	// ErrDuplicateOperation means the (wallet, reference, type) triple was
	// already applied. The mutator resolves it to the stored transaction, so
	// callers never see it.
	ErrDuplicateOperation = errors.New("duplicate operation")

	// ErrConcurrentModification is returned when the wallet version changed
	// between read and conditional write.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

type InsufficientBalanceError struct {
	WalletID  uuid.UUID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s",
		e.Available.StringFixed(amountScale), e.Requested.StringFixed(amountScale))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidTransactionType) ||
		errors.Is(err, ErrInvalidPaymentMethod) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrReasonRequired) ||
		errors.Is(err, ErrReferenceRequired) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrRequestNotPending)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrWalletNotFound) || errors.Is(err, ErrRequestNotFound)
}
