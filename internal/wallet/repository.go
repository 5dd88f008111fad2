package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Page bounds a newest-first transaction listing. Before is an exclusive
// sequence cursor; pages taken with it are stable while new rows arrive.
type Page struct {
	Limit  int
	Offset int
	Before int64
}

type TopUpFilter struct {
	UserID *uuid.UUID
	Status TopUpStatus
}

// Repository is the ledger store. Transactions are append-only: there is no
// method that updates or deletes one.
type Repository interface {
	// Transaction runs fn inside a database transaction. Calling it on a
	// repository that is already transactional opens a savepoint.
	Transaction(ctx context.Context, fn func(Repository) error) error

	EnsureWallet(ctx context.Context, userID uuid.UUID, currency string) (*Wallet, error)
	GetWalletByUserID(ctx context.Context, userID uuid.UUID) (*Wallet, error)
	GetWalletByID(ctx context.Context, walletID uuid.UUID) (*Wallet, error)
	LockWallet(ctx context.Context, walletID uuid.UUID) (*Wallet, error)
	LockWalletShared(ctx context.Context, walletID uuid.UUID) (*Wallet, error)
	UpdateBalance(ctx context.Context, walletID uuid.UUID, expectedVersion int64, balance decimal.Decimal) error

	CreateTransaction(ctx context.Context, tx *Transaction) error
	FindTransactionByReference(ctx context.Context, walletID uuid.UUID, referenceID string, txType TransactionType) (*Transaction, error)
	GetTransactions(ctx context.Context, walletID uuid.UUID, page Page) ([]Transaction, error)
	// CountTransactions counts the rows a listing with the given cursor can
	// reach; before <= 0 counts the whole history.
	CountTransactions(ctx context.Context, walletID uuid.UUID, before int64) (int64, error)
	SumTransactions(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, int64, error)
	LastTransaction(ctx context.Context, walletID uuid.UUID) (*Transaction, error)

	CreateTopUpRequest(ctx context.Context, req *TopUpRequest) error
	GetTopUpRequest(ctx context.Context, id uuid.UUID) (*TopUpRequest, error)
	LockTopUpRequest(ctx context.Context, id uuid.UUID) (*TopUpRequest, error)
	DecideTopUpRequest(ctx context.Context, req *TopUpRequest) error
	ListTopUpRequests(ctx context.Context, filter TopUpFilter, limit, offset int) ([]TopUpRequest, error)
	CountTopUpRequests(ctx context.Context, filter TopUpFilter) (int64, error)

	CreateAdminAction(ctx context.Context, action *AdminAction) error
	ListAdminActions(ctx context.Context, limit, offset int) ([]AdminAction, error)

	Aggregate(ctx context.Context, userIDs []uuid.UUID) (*Aggregate, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Transaction(ctx context.Context, fn func(Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&repository{db: tx})
	})
}

func (r *repository) EnsureWallet(ctx context.Context, userID uuid.UUID, currency string) (*Wallet, error) {
	wallet := Wallet{UserID: userID, Balance: decimal.Zero, Currency: currency}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&wallet).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return r.GetWalletByUserID(ctx, userID)
}

func (r *repository) GetWalletByUserID(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	var wallet Wallet
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		return nil, walletErr(err)
	}
	return &wallet, nil
}

func (r *repository) GetWalletByID(ctx context.Context, walletID uuid.UUID) (*Wallet, error) {
	var wallet Wallet
	if err := r.db.WithContext(ctx).Where("id = ?", walletID).First(&wallet).Error; err != nil {
		return nil, walletErr(err)
	}
	return &wallet, nil
}

func (r *repository) LockWallet(ctx context.Context, walletID uuid.UUID) (*Wallet, error) {
	var wallet Wallet
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", walletID).
		First(&wallet).Error
	if err != nil {
		return nil, walletErr(err)
	}
	return &wallet, nil
}

func (r *repository) LockWalletShared(ctx context.Context, walletID uuid.UUID) (*Wallet, error) {
	var wallet Wallet
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "SHARE"}).
		Where("id = ?", walletID).
		First(&wallet).Error
	if err != nil {
		return nil, walletErr(err)
	}
	return &wallet, nil
}

// UpdateBalance writes the new balance only if nobody bumped the version
// since expectedVersion was read.
func (r *repository) UpdateBalance(ctx context.Context, walletID uuid.UUID, expectedVersion int64, balance decimal.Decimal) error {
	res := r.db.WithContext(ctx).Model(&Wallet{}).
		Where("id = ? AND version = ?", walletID, expectedVersion).
		UpdateColumns(map[string]interface{}{
			"balance":    balance,
			"version":    expectedVersion + 1,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update wallet balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (r *repository) CreateTransaction(ctx context.Context, tx *Transaction) error {
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %v", ErrDuplicateOperation, err)
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// FindTransactionByReference returns nil, nil when nothing was applied yet.
func (r *repository) FindTransactionByReference(ctx context.Context, walletID uuid.UUID, referenceID string, txType TransactionType) (*Transaction, error) {
	var tx Transaction
	err := r.db.WithContext(ctx).
		Where("wallet_id = ? AND reference_id = ? AND type = ?", walletID, referenceID, txType).
		First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up transaction by reference: %w", err)
	}
	return &tx, nil
}

func (r *repository) GetTransactions(ctx context.Context, walletID uuid.UUID, page Page) ([]Transaction, error) {
	var txs []Transaction
	err := r.transactionQuery(ctx, walletID, page.Before).
		Order("sequence desc").
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&txs).Error
	return txs, err
}

func (r *repository) CountTransactions(ctx context.Context, walletID uuid.UUID, before int64) (int64, error) {
	var count int64
	err := r.transactionQuery(ctx, walletID, before).Count(&count).Error
	return count, err
}

func (r *repository) transactionQuery(ctx context.Context, walletID uuid.UUID, before int64) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&Transaction{}).Where("wallet_id = ?", walletID)
	if before > 0 {
		q = q.Where("sequence < ?", before)
	}
	return q
}

func (r *repository) SumTransactions(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, int64, error) {
	var row struct {
		Total   decimal.Decimal
		TxCount int64
	}
	err := r.db.WithContext(ctx).Model(&Transaction{}).
		Select("COALESCE(SUM(amount), 0) AS total, COUNT(*) AS tx_count").
		Where("wallet_id = ?", walletID).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return row.Total, row.TxCount, nil
}

// LastTransaction returns nil, nil for a wallet with no history.
func (r *repository) LastTransaction(ctx context.Context, walletID uuid.UUID) (*Transaction, error) {
	var tx Transaction
	err := r.db.WithContext(ctx).Where("wallet_id = ?", walletID).Order("sequence desc").First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *repository) CreateTopUpRequest(ctx context.Context, req *TopUpRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *repository) GetTopUpRequest(ctx context.Context, id uuid.UUID) (*TopUpRequest, error) {
	var req TopUpRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, requestErr(err)
	}
	return &req, nil
}

func (r *repository) LockTopUpRequest(ctx context.Context, id uuid.UUID) (*TopUpRequest, error) {
	var req TopUpRequest
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&req).Error
	if err != nil {
		return nil, requestErr(err)
	}
	return &req, nil
}

// DecideTopUpRequest persists a terminal decision. The write is conditional on
// the row still being pending, so a request is decided at most once.
func (r *repository) DecideTopUpRequest(ctx context.Context, req *TopUpRequest) error {
	if !req.Status.Terminal() {
		return fmt.Errorf("%w: %q is not a terminal status", ErrInvalidStatus, req.Status)
	}
	res := r.db.WithContext(ctx).Model(&TopUpRequest{}).
		Where("id = ? AND status = ?", req.ID, TopUpPending).
		Updates(map[string]interface{}{
			"status":           req.Status,
			"rejection_reason": req.RejectionReason,
			"verified_by":      req.VerifiedBy,
			"verified_at":      req.VerifiedAt,
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update top-up request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRequestNotPending
	}
	return nil
}

func (r *repository) ListTopUpRequests(ctx context.Context, filter TopUpFilter, limit, offset int) ([]TopUpRequest, error) {
	var reqs []TopUpRequest
	err := r.topUpQuery(ctx, filter).
		Order("created_at desc").
		Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&reqs).Error
	return reqs, err
}

func (r *repository) CountTopUpRequests(ctx context.Context, filter TopUpFilter) (int64, error) {
	var count int64
	err := r.topUpQuery(ctx, filter).Count(&count).Error
	return count, err
}

func (r *repository) topUpQuery(ctx context.Context, filter TopUpFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&TopUpRequest{})
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	return q
}

func (r *repository) CreateAdminAction(ctx context.Context, action *AdminAction) error {
	return r.db.WithContext(ctx).Create(action).Error
}

func (r *repository) ListAdminActions(ctx context.Context, limit, offset int) ([]AdminAction, error) {
	var actions []AdminAction
	err := r.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&actions).Error
	return actions, err
}

// Aggregate runs as one statement so it reads a single committed snapshot:
// a wallet's balance and its newest transaction always commit together.
func (r *repository) Aggregate(ctx context.Context, userIDs []uuid.UUID) (*Aggregate, error) {
	var agg Aggregate
	q := r.db.WithContext(ctx).Model(&Wallet{}).
		Select("COUNT(*) AS wallet_count, COALESCE(SUM(balance), 0) AS total_balance")
	if len(userIDs) > 0 {
		q = q.Where("user_id IN ?", userIDs)
	}
	if err := q.Scan(&agg).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate wallets: %w", err)
	}
	return &agg, nil
}

func walletErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrWalletNotFound
	}
	return err
}

func requestErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRequestNotFound
	}
	return err
}
