package wallet

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Projections serves read-only views of the ledger.
type Projections struct {
	Repo     Repository
	Currency string
}

func NewProjections(repo Repository, currency string) *Projections {
	return &Projections{Repo: repo, Currency: currency}
}

// GetWallet returns the user's wallet, creating an empty one on first access.
func (p *Projections) GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	w, err := p.Repo.GetWalletByUserID(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}
	return p.Repo.EnsureWallet(ctx, userID, p.Currency)
}

func (p *Projections) GetWalletByID(ctx context.Context, walletID uuid.UUID) (*Wallet, error) {
	return p.Repo.GetWalletByID(ctx, walletID)
}

type TransactionPage struct {
	Transactions []Transaction `json:"transactions"`
	Total        int64         `json:"total"`
}

// ListTransactions returns the wallet's history, newest first. Total counts
// what the page's cursor can reach.
func (p *Projections) ListTransactions(ctx context.Context, walletID uuid.UUID, page Page) (*TransactionPage, error) {
	if _, err := p.Repo.GetWalletByID(ctx, walletID); err != nil {
		return nil, err
	}

	txs, err := p.Repo.GetTransactions(ctx, walletID, page)
	if err != nil {
		return nil, err
	}
	total, err := p.Repo.CountTransactions(ctx, walletID, page.Before)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []Transaction{}
	}
	return &TransactionPage{Transactions: txs, Total: total}, nil
}

type TopUpPage struct {
	Requests []TopUpRequest `json:"requests"`
	Total    int64          `json:"total"`
}

func (p *Projections) ListTopUpRequests(ctx context.Context, filter TopUpFilter, limit, offset int) (*TopUpPage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidStatus
	}

	reqs, err := p.Repo.ListTopUpRequests(ctx, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := p.Repo.CountTopUpRequests(ctx, filter)
	if err != nil {
		return nil, err
	}
	if reqs == nil {
		reqs = []TopUpRequest{}
	}
	return &TopUpPage{Requests: reqs, Total: total}, nil
}

func (p *Projections) Aggregate(ctx context.Context, userIDs []uuid.UUID) (*Aggregate, error) {
	return p.Repo.Aggregate(ctx, userIDs)
}

// Reconcile checks balance == sum(amount) and that the newest balance_after
// matches the stored balance, holding a shared lock so no mutation interleaves.
func (p *Projections) Reconcile(ctx context.Context, walletID uuid.UUID) (*ReconcileReport, error) {
	var report *ReconcileReport
	err := p.Repo.Transaction(ctx, func(r Repository) error {
		w, err := r.LockWalletShared(ctx, walletID)
		if err != nil {
			return err
		}
		sum, count, err := r.SumTransactions(ctx, walletID)
		if err != nil {
			return err
		}
		last, err := r.LastTransaction(ctx, walletID)
		if err != nil {
			return err
		}

		lastBalance := decimal.Zero
		if last != nil {
			lastBalance = last.BalanceAfter
		}

		report = &ReconcileReport{
			WalletID:         w.ID,
			Balance:          w.Balance,
			TransactionSum:   sum,
			TransactionCount: count,
			LastBalanceAfter: lastBalance,
			Version:          w.Version,
			Consistent: w.Balance.Equal(sum) &&
				w.Balance.Equal(lastBalance) &&
				w.Version == count,
		}
		return nil
	})
	return report, err
}

func (p *Projections) ListAdminActions(ctx context.Context, limit, offset int) ([]AdminAction, error) {
	actions, err := p.Repo.ListAdminActions(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if actions == nil {
		actions = []AdminAction{}
	}
	return actions, nil
}
