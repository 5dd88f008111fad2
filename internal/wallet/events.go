package wallet

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventLedger posts credits and spends triggered by business events such as
// a completed booking. Every call carries a reference id, so replays of the
// same event never post twice.
type EventLedger struct {
	Ledger *Mutator
	Users  UserDirectory
}

func NewEventLedger(ledger *Mutator, users UserDirectory) *EventLedger {
	return &EventLedger{Ledger: ledger, Users: users}
}

type EventMutation struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Type        TransactionType
	ReferenceID string
	Description string
}

// CreditFromEvent accepts earning and refund credits.
func (l *EventLedger) CreditFromEvent(ctx context.Context, in EventMutation) (*Transaction, error) {
	switch in.Type {
	case TransactionEarning, TransactionRefund:
	default:
		return nil, fmt.Errorf("%w: %q cannot be credited from an event", ErrInvalidTransactionType, in.Type)
	}
	return l.post(ctx, in, in.Amount)
}

// SpendFromEvent debits a wallet for a purchase paid from balance.
func (l *EventLedger) SpendFromEvent(ctx context.Context, in EventMutation) (*Transaction, error) {
	if in.Type == "" {
		in.Type = TransactionSpend
	}
	if in.Type != TransactionSpend {
		return nil, fmt.Errorf("%w: %q cannot be spent from an event", ErrInvalidTransactionType, in.Type)
	}
	return l.post(ctx, in, in.Amount.Neg())
}

func (l *EventLedger) post(ctx context.Context, in EventMutation, signed decimal.Decimal) (*Transaction, error) {
	ref := strings.TrimSpace(in.ReferenceID)
	if ref == "" {
		return nil, ErrReferenceRequired
	}
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}
	if err := requireKnownUser(ctx, l.Users, in.UserID); err != nil {
		return nil, err
	}

	description := in.Description
	if description == "" {
		description = fmt.Sprintf("%s for %s", in.Type, ref)
	}

	return l.Ledger.Apply(ctx, Mutation{
		UserID:      in.UserID,
		Amount:      signed,
		Type:        in.Type,
		Description: description,
		ReferenceID: &ref,
	})
}
