package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zjoart/go-cleaner-wallet/pkg/events"
	"github.com/zjoart/go-cleaner-wallet/pkg/logger"
)

const maxApplyAttempts = 3

// maxAmount is the largest magnitude a numeric(14,2) column holds.
var maxAmount = decimal.New(1, 12)

type Mutation struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Type        TransactionType
	Description string
	ReferenceID *string
}

func (m Mutation) validate() error {
	dir, err := m.Type.Direction()
	if err != nil {
		return err
	}
	if m.UserID == uuid.Nil {
		return fmt.Errorf("%w: missing user id", ErrWalletNotFound)
	}
	if err := validateAmount(m.Amount.Abs()); err != nil {
		return err
	}
	if m.Amount.Sign() != int(dir) {
		return fmt.Errorf("%w: %s amount must be a %s", ErrInvalidAmount, m.Type, dir)
	}
	return nil
}

// validateAmount checks a positive magnitude fits the ledger's precision.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Round(amountScale)) {
		return fmt.Errorf("%w: at most %d decimal places allowed", ErrInvalidAmount, amountScale)
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("%w: exceeds maximum", ErrInvalidAmount)
	}
	return nil
}

type Policy struct {
	Currency      string
	AllowNegative bool
}

// Applier posts a mutation through a caller-supplied repository, which may
// already be inside a transaction.
type Applier interface {
	ApplyWith(ctx context.Context, repo Repository, m Mutation) (*Transaction, error)
}

type Notifier interface {
	NotifyBalance(ctx context.Context, n events.BalanceNotification) error
}

// Mutator is the only code path that changes a wallet balance.
type Mutator struct {
	Repo     Repository
	Policy   Policy
	Notifier Notifier
}

func NewMutator(repo Repository, policy Policy, notifier Notifier) *Mutator {
	return &Mutator{Repo: repo, Policy: policy, Notifier: notifier}
}

// Apply posts m in its own transaction and notifies listeners after commit.
// Re-applying a mutation whose reference was already posted returns the
// stored transaction instead of an error.
func (m *Mutator) Apply(ctx context.Context, mut Mutation) (*Transaction, error) {
	tx, err := m.ApplyWith(ctx, m.Repo, mut)
	if err != nil {
		return nil, err
	}
	m.notify(ctx, mut.UserID, tx)
	return tx, nil
}

func (m *Mutator) ApplyWith(ctx context.Context, repo Repository, mut Mutation) (*Transaction, error) {
	if mut.ReferenceID != nil && *mut.ReferenceID == "" {
		mut.ReferenceID = nil
	}
	if err := mut.validate(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		tx, err := m.applyOnce(ctx, repo, mut)
		if err == nil {
			return tx, nil
		}

		if errors.Is(err, ErrDuplicateOperation) {
			// Either the reference was posted by a racing writer, or the
			// sequence slot was taken; only the former resolves to a row.
			if existing, lookupErr := m.existing(ctx, repo, mut); lookupErr != nil {
				return nil, lookupErr
			} else if existing != nil {
				return existing, nil
			}
			err = ErrConcurrentModification
		}

		if !IsRetryable(err) {
			return nil, err
		}

		lastErr = err
		logger.Warn("Ledger: concurrent modification, retrying", logger.Fields{
			logger.UserIdKey: mut.UserID.String(),
			"type":           mut.Type,
			"attempt":        attempt,
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt*10) * time.Millisecond):
		}
	}

	return nil, lastErr
}

func (m *Mutator) applyOnce(ctx context.Context, repo Repository, mut Mutation) (*Transaction, error) {
	var applied *Transaction
	replayed := false

	err := repo.Transaction(ctx, func(r Repository) error {
		w, err := r.GetWalletByUserID(ctx, mut.UserID)
		if errors.Is(err, ErrWalletNotFound) {
			w, err = r.EnsureWallet(ctx, mut.UserID, m.Policy.Currency)
		}
		if err != nil {
			return err
		}

		w, err = r.LockWallet(ctx, w.ID)
		if err != nil {
			return err
		}

		if mut.ReferenceID != nil {
			existing, err := r.FindTransactionByReference(ctx, w.ID, *mut.ReferenceID, mut.Type)
			if err != nil {
				return err
			}
			if existing != nil {
				applied = existing
				replayed = true
				return nil
			}
		}

		newBalance := w.Balance.Add(mut.Amount)
		if mut.Amount.IsNegative() && newBalance.IsNegative() && !m.Policy.AllowNegative {
			return &InsufficientBalanceError{
				WalletID:  w.ID,
				Available: w.Balance,
				Requested: mut.Amount.Abs(),
			}
		}
		if newBalance.Abs().GreaterThanOrEqual(maxAmount) {
			return fmt.Errorf("%w: balance would exceed maximum", ErrInvalidAmount)
		}

		if err := r.UpdateBalance(ctx, w.ID, w.Version, newBalance); err != nil {
			return err
		}

		tx := &Transaction{
			WalletID:     w.ID,
			Sequence:     w.Version + 1,
			Type:         mut.Type,
			Amount:       mut.Amount,
			BalanceAfter: newBalance,
			Description:  mut.Description,
			ReferenceID:  mut.ReferenceID,
		}
		if err := r.CreateTransaction(ctx, tx); err != nil {
			return err
		}

		applied = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := logger.Fields{
		logger.UserIdKey:   mut.UserID.String(),
		logger.WalletIDKey: applied.WalletID.String(),
		"transaction_id":   applied.ID.String(),
		"type":             applied.Type,
		"amount":           applied.Amount.String(),
		"balance_after":    applied.BalanceAfter.String(),
	}
	if mut.ReferenceID != nil {
		fields[logger.ReferenceKey] = *mut.ReferenceID
	}
	if replayed {
		logger.Info("Ledger: duplicate operation, returning existing transaction", fields)
	} else {
		logger.Info("Ledger: transaction applied", fields)
	}

	return applied, nil
}

func (m *Mutator) existing(ctx context.Context, repo Repository, mut Mutation) (*Transaction, error) {
	if mut.ReferenceID == nil {
		return nil, nil
	}
	w, err := repo.GetWalletByUserID(ctx, mut.UserID)
	if err != nil {
		return nil, err
	}
	return repo.FindTransactionByReference(ctx, w.ID, *mut.ReferenceID, mut.Type)
}

func (m *Mutator) notify(ctx context.Context, userID uuid.UUID, tx *Transaction) {
	if m.Notifier == nil {
		return
	}
	notifyBalance(ctx, m.Notifier, userID, tx)
}

func notifyBalance(ctx context.Context, n Notifier, userID uuid.UUID, tx *Transaction) {
	err := n.NotifyBalance(ctx, events.BalanceNotification{
		UserID:        userID.String(),
		WalletID:      tx.WalletID.String(),
		TransactionID: tx.ID.String(),
		Type:          string(tx.Type),
		Amount:        tx.Amount.StringFixed(amountScale),
		BalanceAfter:  tx.BalanceAfter.StringFixed(amountScale),
		Timestamp:     tx.CreatedAt,
	})
	if err != nil {
		logger.Warn("Ledger: failed to publish balance notification", logger.Merge(
			logger.Fields{"transaction_id": tx.ID.String()},
			logger.WithError(err),
		))
	}
}
