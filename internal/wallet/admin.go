package wallet

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zjoart/go-cleaner-wallet/pkg/logger"
)

// AdminGateway lets operators adjust a balance directly. Adjustments carry no
// reference id, so two identical corrections are two transactions.
type AdminGateway struct {
	Repo     Repository
	Ledger   Applier
	Auth     Authorizer
	Users    UserDirectory
	Notifier Notifier
}

func NewAdminGateway(repo Repository, ledger Applier, auth Authorizer, users UserDirectory, notifier Notifier) *AdminGateway {
	return &AdminGateway{Repo: repo, Ledger: ledger, Auth: auth, Users: users, Notifier: notifier}
}

func (g *AdminGateway) Credit(ctx context.Context, adminID, userID uuid.UUID, amount decimal.Decimal, description string) (*Transaction, error) {
	return g.adjust(ctx, adminID, userID, amount, description, TransactionAdminCredit)
}

func (g *AdminGateway) Debit(ctx context.Context, adminID, userID uuid.UUID, amount decimal.Decimal, description string) (*Transaction, error) {
	return g.adjust(ctx, adminID, userID, amount, description, TransactionAdminDebit)
}

func (g *AdminGateway) adjust(ctx context.Context, adminID, userID uuid.UUID, amount decimal.Decimal, description string, txType TransactionType) (*Transaction, error) {
	if err := requireAdmin(ctx, g.Auth, adminID); err != nil {
		return nil, err
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, ErrReasonRequired
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if err := requireKnownUser(ctx, g.Users, userID); err != nil {
		return nil, err
	}

	dir, err := txType.Direction()
	if err != nil {
		return nil, err
	}
	signed := amount
	if dir == Debit {
		signed = amount.Neg()
	}

	action := ActionAdminCredit
	if txType == TransactionAdminDebit {
		action = ActionAdminDebit
	}

	var applied *Transaction
	err = g.Repo.Transaction(ctx, func(r Repository) error {
		tx, err := g.Ledger.ApplyWith(ctx, r, Mutation{
			UserID:      userID,
			Amount:      signed,
			Type:        txType,
			Description: description,
		})
		if err != nil {
			return err
		}

		if err := r.CreateAdminAction(ctx, &AdminAction{
			ActorID:      adminID,
			Action:       action,
			TargetUserID: userID,
			ReferenceID:  tx.ID.String(),
			Details: map[string]interface{}{
				"amount":      amount.StringFixed(amountScale),
				"description": description,
			},
		}); err != nil {
			return fmt.Errorf("failed to record admin action: %w", err)
		}

		applied = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Admin: balance adjusted", logger.Fields{
		logger.AdminIDKey: adminID.String(),
		logger.UserIdKey:  userID.String(),
		"type":            txType,
		"amount":          signed.String(),
		"balance_after":   applied.BalanceAfter.String(),
	})
	if g.Notifier != nil {
		notifyBalance(ctx, g.Notifier, userID, applied)
	}
	return applied, nil
}
