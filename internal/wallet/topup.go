package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zjoart/go-cleaner-wallet/pkg/logger"
)

// Authorizer answers role questions owned by the identity system.
type Authorizer interface {
	IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error)
}

// UserDirectory reports whether an account exists in the identity system.
type UserDirectory interface {
	UserExists(ctx context.Context, userID uuid.UUID) (bool, error)
}

type SubmitTopUpInput struct {
	UserID        uuid.UUID
	Amount        decimal.Decimal
	PaymentMethod PaymentMethod
	ProofImageURL *string
}

// TopUpService moves self-reported payments from pending to verified or
// rejected. Only verification touches the ledger.
type TopUpService struct {
	Repo      Repository
	Ledger    Applier
	Auth      Authorizer
	Notifier  Notifier
	Currency  string
	MinAmount decimal.Decimal
}

func NewTopUpService(repo Repository, ledger Applier, auth Authorizer, notifier Notifier, currency string, minAmount decimal.Decimal) *TopUpService {
	return &TopUpService{
		Repo:      repo,
		Ledger:    ledger,
		Auth:      auth,
		Notifier:  notifier,
		Currency:  currency,
		MinAmount: minAmount,
	}
}

func (s *TopUpService) Submit(ctx context.Context, in SubmitTopUpInput) (*TopUpRequest, error) {
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}
	if in.Amount.LessThan(s.MinAmount) {
		return nil, fmt.Errorf("%w: minimum top-up is %s", ErrInvalidAmount, s.MinAmount.StringFixed(amountScale))
	}
	if !in.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, in.PaymentMethod)
	}
	if in.ProofImageURL != nil && strings.TrimSpace(*in.ProofImageURL) == "" {
		in.ProofImageURL = nil
	}

	w, err := s.Repo.EnsureWallet(ctx, in.UserID, s.Currency)
	if err != nil {
		return nil, err
	}

	req := &TopUpRequest{
		UserID:        in.UserID,
		WalletID:      w.ID,
		Amount:        in.Amount,
		PaymentMethod: in.PaymentMethod,
		Status:        TopUpPending,
		ProofImageURL: in.ProofImageURL,
	}
	if err := s.Repo.CreateTopUpRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create top-up request: %w", err)
	}

	logger.Info("TopUp: request submitted", logger.Fields{
		"request_id":       req.ID.String(),
		logger.UserIdKey:   in.UserID.String(),
		"amount":           req.Amount.String(),
		"payment_method":   req.PaymentMethod,
		logger.WalletIDKey: w.ID.String(),
	})
	return req, nil
}

// Verify marks a pending request verified and credits its amount. The status
// change, the ledger credit and the audit row commit together or not at all.
func (s *TopUpService) Verify(ctx context.Context, requestID, adminID uuid.UUID) (*Transaction, error) {
	if err := requireAdmin(ctx, s.Auth, adminID); err != nil {
		return nil, err
	}

	var (
		credited *Transaction
		userID   uuid.UUID
	)
	err := s.Repo.Transaction(ctx, func(r Repository) error {
		req, err := r.LockTopUpRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != TopUpPending {
			return fmt.Errorf("%w: request %s is %s", ErrRequestNotPending, req.ID, req.Status)
		}

		now := time.Now()
		req.Status = TopUpVerified
		req.VerifiedBy = &adminID
		req.VerifiedAt = &now
		if err := r.DecideTopUpRequest(ctx, req); err != nil {
			return err
		}

		ref := req.ID.String()
		tx, err := s.Ledger.ApplyWith(ctx, r, Mutation{
			UserID:      req.UserID,
			Amount:      req.Amount,
			Type:        TransactionTopUp,
			Description: fmt.Sprintf("Top-up via %s", req.PaymentMethod),
			ReferenceID: &ref,
		})
		if err != nil {
			return err
		}

		if err := r.CreateAdminAction(ctx, &AdminAction{
			ActorID:      adminID,
			Action:       ActionTopUpVerified,
			TargetUserID: req.UserID,
			ReferenceID:  ref,
			Details: map[string]interface{}{
				"amount":         req.Amount.StringFixed(amountScale),
				"payment_method": string(req.PaymentMethod),
				"transaction_id": tx.ID.String(),
			},
		}); err != nil {
			return fmt.Errorf("failed to record admin action: %w", err)
		}

		credited = tx
		userID = req.UserID
		return nil
	})
	if err != nil {
		logger.Warn("TopUp: verification failed", logger.Merge(logger.Fields{
			"request_id":      requestID.String(),
			logger.AdminIDKey: adminID.String(),
		}, logger.WithError(err)))
		return nil, err
	}

	logger.Info("TopUp: request verified", logger.Fields{
		"request_id":      requestID.String(),
		logger.AdminIDKey: adminID.String(),
		"transaction_id":  credited.ID.String(),
		"balance_after":   credited.BalanceAfter.String(),
	})
	if s.Notifier != nil {
		notifyBalance(ctx, s.Notifier, userID, credited)
	}
	return credited, nil
}

// Reject closes a pending request without touching the ledger.
func (s *TopUpService) Reject(ctx context.Context, requestID, adminID uuid.UUID, reason string) (*TopUpRequest, error) {
	if err := requireAdmin(ctx, s.Auth, adminID); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	var rejected *TopUpRequest
	err := s.Repo.Transaction(ctx, func(r Repository) error {
		req, err := r.LockTopUpRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != TopUpPending {
			return fmt.Errorf("%w: request %s is %s", ErrRequestNotPending, req.ID, req.Status)
		}

		now := time.Now()
		req.Status = TopUpRejected
		req.RejectionReason = &reason
		req.VerifiedBy = &adminID
		req.VerifiedAt = &now
		if err := r.DecideTopUpRequest(ctx, req); err != nil {
			return err
		}

		if err := r.CreateAdminAction(ctx, &AdminAction{
			ActorID:      adminID,
			Action:       ActionTopUpRejected,
			TargetUserID: req.UserID,
			ReferenceID:  req.ID.String(),
			Details: map[string]interface{}{
				"amount": req.Amount.StringFixed(amountScale),
				"reason": reason,
			},
		}); err != nil {
			return fmt.Errorf("failed to record admin action: %w", err)
		}

		rejected = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("TopUp: request rejected", logger.Fields{
		"request_id":      requestID.String(),
		logger.AdminIDKey: adminID.String(),
		"reason":          reason,
	})
	return rejected, nil
}

// requireKnownUser stops credits addressed to ids the identity system has
// never issued. A nil directory skips the check.
func requireKnownUser(ctx context.Context, users UserDirectory, userID uuid.UUID) error {
	if users == nil {
		return nil
	}
	ok, err := users.UserExists(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: unknown user %s", ErrWalletNotFound, userID)
	}
	return nil
}

func requireAdmin(ctx context.Context, auth Authorizer, actorID uuid.UUID) error {
	if auth == nil {
		return ErrUnauthorized
	}
	ok, err := auth.IsAdmin(ctx, actorID)
	if err != nil {
		return fmt.Errorf("failed to check admin role: %w", err)
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}
