package wallet

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zjoart/go-cleaner-wallet/pkg/id"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// amountScale is the number of minor-unit digits every amount must fit in.
const amountScale = 2

type Wallet struct {
	ID        uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	UserID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	Balance   decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"balance"`
	Currency  string          `gorm:"not null" json:"currency"`
	Version   int64           `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Wallet) TableName() string { return "wallets" }

func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = id.Generate()
	}
	return nil
}

type TransactionType string

const (
	TransactionTopUp       TransactionType = "top_up"
	TransactionEarning     TransactionType = "earning"
	TransactionRefund      TransactionType = "refund"
	TransactionAdminCredit TransactionType = "admin_credit"
	TransactionAdminDebit  TransactionType = "admin_debit"
	TransactionSpend       TransactionType = "spend"
)

type Direction int

const (
	Credit Direction = 1
	Debit  Direction = -1
)

func (d Direction) String() string {
	if d == Debit {
		return "debit"
	}
	return "credit"
}

// Direction reports whether a transaction type adds to or removes from a balance.
func (t TransactionType) Direction() (Direction, error) {
	switch t {
	case TransactionTopUp, TransactionEarning, TransactionRefund, TransactionAdminCredit:
		return Credit, nil
	case TransactionAdminDebit, TransactionSpend:
		return Debit, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidTransactionType, string(t))
	}
}

func (t TransactionType) Valid() bool {
	_, err := t.Direction()
	return err == nil
}

// Transaction is an immutable ledger row. Sequence numbers each wallet's
// transactions from 1 without gaps.
type Transaction struct {
	ID           uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	WalletID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_wallet_tx_sequence,priority:1;uniqueIndex:idx_wallet_tx_reference,priority:1" json:"wallet_id"`
	Sequence     int64           `gorm:"not null;uniqueIndex:idx_wallet_tx_sequence,priority:2" json:"sequence"`
	Type         TransactionType `gorm:"not null;uniqueIndex:idx_wallet_tx_reference,priority:3" json:"type"`
	Amount       decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	BalanceAfter decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"balance_after"`
	Description  string          `json:"description"`
	ReferenceID  *string         `gorm:"uniqueIndex:idx_wallet_tx_reference,priority:2" json:"reference_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (Transaction) TableName() string { return "wallet_transactions" }

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = id.Generate()
	}
	return nil
}

func (t *Transaction) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableTransaction
}

func (t *Transaction) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutableTransaction
}

type PaymentMethod string

const (
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentCash         PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentBankTransfer || m == PaymentCash
}

type TopUpStatus string

const (
	TopUpPending  TopUpStatus = "pending"
	TopUpVerified TopUpStatus = "verified"
	TopUpRejected TopUpStatus = "rejected"
)

func (s TopUpStatus) Valid() bool {
	return s == TopUpPending || s == TopUpVerified || s == TopUpRejected
}

func (s TopUpStatus) Terminal() bool {
	return s == TopUpVerified || s == TopUpRejected
}

type TopUpRequest struct {
	ID              uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	UserID          uuid.UUID       `gorm:"type:uuid;not null;index" json:"user_id"`
	WalletID        uuid.UUID       `gorm:"type:uuid;not null" json:"wallet_id"`
	Amount          decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	PaymentMethod   PaymentMethod   `gorm:"not null" json:"payment_method"`
	Status          TopUpStatus     `gorm:"not null;index" json:"status"`
	ProofImageURL   *string         `json:"proof_image_url,omitempty"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	VerifiedBy      *uuid.UUID      `gorm:"type:uuid" json:"verified_by,omitempty"`
	VerifiedAt      *time.Time      `json:"verified_at,omitempty"`
	CreatedAt       time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (TopUpRequest) TableName() string { return "wallet_topup_requests" }

func (r *TopUpRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = id.Generate()
	}
	return nil
}

type AdminActionType string

const (
	ActionTopUpVerified AdminActionType = "topup_verified"
	ActionTopUpRejected AdminActionType = "topup_rejected"
	ActionAdminCredit   AdminActionType = "admin_credit"
	ActionAdminDebit    AdminActionType = "admin_debit"
)

// AdminAction records which operator performed a privileged ledger action.
type AdminAction struct {
	ID           uuid.UUID         `gorm:"type:uuid;primary_key" json:"id"`
	ActorID      uuid.UUID         `gorm:"type:uuid;not null;index" json:"actor_id"`
	Action       AdminActionType   `gorm:"not null" json:"action"`
	TargetUserID uuid.UUID         `gorm:"type:uuid;not null" json:"target_user_id"`
	ReferenceID  string            `json:"reference_id"`
	Details      datatypes.JSONMap `json:"details"`
	CreatedAt    time.Time         `gorm:"index" json:"created_at"`
}

func (AdminAction) TableName() string { return "wallet_admin_actions" }

func (a *AdminAction) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = id.Generate()
	}
	return nil
}

// Models lists every table owned by the ledger, in migration order.
func Models() []interface{} {
	return []interface{}{&Wallet{}, &Transaction{}, &TopUpRequest{}, &AdminAction{}}
}

// Aggregate is the admin overview of a set of wallets.
type Aggregate struct {
	WalletCount  int64           `json:"wallet_count"`
	TotalBalance decimal.Decimal `json:"total_balance"`
}

// ReconcileReport compares a wallet's stored balance with its history.
type ReconcileReport struct {
	WalletID         uuid.UUID       `json:"wallet_id"`
	Balance          decimal.Decimal `json:"balance"`
	TransactionSum   decimal.Decimal `json:"transaction_sum"`
	TransactionCount int64           `json:"transaction_count"`
	LastBalanceAfter decimal.Decimal `json:"last_balance_after"`
	Version          int64           `json:"version"`
	Consistent       bool            `json:"consistent"`
}
