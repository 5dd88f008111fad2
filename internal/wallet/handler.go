package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/zjoart/go-cleaner-wallet/internal/user"
	"github.com/zjoart/go-cleaner-wallet/pkg/config"
	"github.com/zjoart/go-cleaner-wallet/pkg/events"
	"github.com/zjoart/go-cleaner-wallet/pkg/id"
	"github.com/zjoart/go-cleaner-wallet/pkg/logger"
	"github.com/zjoart/go-cleaner-wallet/pkg/utils"
)

type EventPublisher interface {
	PublishEvent(ctx context.Context, event events.LedgerEvent) error
}

type Handler struct {
	Config      config.Config
	Projections *Projections
	TopUps      *TopUpService
	Admin       *AdminGateway
	Events      *EventLedger
	Publisher   EventPublisher
}

func NewHandler(cfg config.Config, projections *Projections, topUps *TopUpService, admin *AdminGateway, eventLedger *EventLedger, publisher EventPublisher) *Handler {
	return &Handler{
		Config:      cfg,
		Projections: projections,
		TopUps:      topUps,
		Admin:       admin,
		Events:      eventLedger,
		Publisher:   publisher,
	}
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)

	wallet, err := h.Projections.GetWallet(r.Context(), usr.ID)
	if err != nil {
		writeLedgerError(w, err, "Failed to load wallet")
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Wallet Details", wallet)
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)
	h.writeUserTransactions(w, r, usr.ID)
}

type SubmitTopUpRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	ProofImageURL *string         `json:"proof_image_url,omitempty"`
}

func (h *Handler) SubmitTopUp(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)

	var req SubmitTopUpRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	topUp, err := h.TopUps.Submit(r.Context(), SubmitTopUpInput{
		UserID:        usr.ID,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		ProofImageURL: req.ProofImageURL,
	})
	if err != nil {
		writeLedgerError(w, err, "Failed to submit top-up")
		return
	}

	utils.BuildSuccessResponse(w, http.StatusCreated, "Top-up submitted, awaiting verification", topUp)
}

func (h *Handler) ListMyTopUps(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)
	h.writeTopUps(w, r, &usr.ID)
}

func (h *Handler) ListTopUps(w http.ResponseWriter, r *http.Request) {
	h.writeTopUps(w, r, nil)
}

func (h *Handler) VerifyTopUp(w http.ResponseWriter, r *http.Request) {
	admin, _ := r.Context().Value(utils.UserKey).(user.User)

	requestID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	tx, err := h.TopUps.Verify(r.Context(), requestID, admin.ID)
	if err != nil {
		writeLedgerError(w, err, "Failed to verify top-up")
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Top-up verified", tx)
}

type RejectTopUpRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RejectTopUp(w http.ResponseWriter, r *http.Request) {
	admin, _ := r.Context().Value(utils.UserKey).(user.User)

	requestID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req RejectTopUpRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	topUp, err := h.TopUps.Reject(r.Context(), requestID, admin.ID, req.Reason)
	if err != nil {
		writeLedgerError(w, err, "Failed to reject top-up")
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Top-up rejected", topUp)
}

func (h *Handler) GetUserWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "user_id")
	if !ok {
		return
	}

	wallet, err := h.Projections.GetWallet(r.Context(), userID)
	if err != nil {
		writeLedgerError(w, err, "Failed to load wallet")
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Wallet Details", wallet)
}

func (h *Handler) GetUserTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "user_id")
	if !ok {
		return
	}
	h.writeUserTransactions(w, r, userID)
}

// GetLedgerTransactions lists a wallet's history by wallet id, for operators
// following a wallet_id out of the audit log or a balance notification.
func (h *Handler) GetLedgerTransactions(w http.ResponseWriter, r *http.Request) {
	walletID, ok := pathUUID(w, r, "wallet_id")
	if !ok {
		return
	}

	wallet, err := h.Projections.GetWalletByID(r.Context(), walletID)
	if err != nil {
		writeLedgerError(w, err, "Failed to load wallet")
		return
	}
	h.writeTransactions(w, r, wallet)
}

func (h *Handler) ReconcileUserWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "user_id")
	if !ok {
		return
	}

	wallet, err := h.Projections.GetWallet(r.Context(), userID)
	if err != nil {
		writeLedgerError(w, err, "Failed to load wallet")
		return
	}

	report, err := h.Projections.Reconcile(r.Context(), wallet.ID)
	if err != nil {
		writeLedgerError(w, err, "Failed to reconcile wallet")
		return
	}
	if !report.Consistent {
		logger.Error("CRITICAL: wallet balance does not match its history", logger.Fields{
			logger.WalletIDKey: wallet.ID.String(),
			"balance":          report.Balance.String(),
			"transaction_sum":  report.TransactionSum.String(),
		})
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Wallet reconciliation", report)
}

type AdjustmentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

func (h *Handler) AdminCredit(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.Admin.Credit, "Wallet credited")
}

func (h *Handler) AdminDebit(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.Admin.Debit, "Wallet debited")
}

type adjustFunc func(ctx context.Context, adminID, userID uuid.UUID, amount decimal.Decimal, description string) (*Transaction, error)

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request, fn adjustFunc, message string) {
	admin, _ := r.Context().Value(utils.UserKey).(user.User)

	userID, ok := pathUUID(w, r, "user_id")
	if !ok {
		return
	}

	var req AdjustmentRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	tx, err := fn(r.Context(), admin.ID, userID, req.Amount, req.Description)
	if err != nil {
		writeLedgerError(w, err, "Failed to adjust wallet")
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, message, tx)
}

func (h *Handler) GetAggregate(w http.ResponseWriter, r *http.Request) {
	var userIDs []uuid.UUID
	if raw := r.URL.Query().Get("user_ids"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			userID, err := id.Parse(part)
			if err != nil {
				utils.BuildErrorResponse(w, http.StatusBadRequest, "Invalid user id in user_ids", nil)
				return
			}
			userIDs = append(userIDs, userID)
		}
	}

	agg, err := h.Projections.Aggregate(r.Context(), userIDs)
	if err != nil {
		writeLedgerError(w, err, "Failed to aggregate wallets")
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Wallet overview", agg)
}

func (h *Handler) ListAuditLog(w http.ResponseWriter, r *http.Request) {
	limit, offset, page := utils.GetPaginationDetails(r)

	actions, err := h.Projections.ListAdminActions(r.Context(), limit, offset)
	if err != nil {
		writeLedgerError(w, err, "Failed to fetch audit log")
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Admin audit log", map[string]interface{}{
		"actions": actions,
		"meta": map[string]interface{}{
			"current_page": page,
			"limit":        limit,
		},
	})
}

type LedgerEventRequest struct {
	UserID      uuid.UUID       `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Type        TransactionType `json:"type"`
	ReferenceID string          `json:"reference_id"`
	Description string          `json:"description"`
}

// PostLedgerEvent serves internal callers. Posting the same reference twice
// returns the original transaction. With ?async=true the event is queued for
// the ledger worker instead.
func (h *Handler) PostLedgerEvent(w http.ResponseWriter, r *http.Request) {
	var req LedgerEventRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	if r.URL.Query().Get("async") == "true" {
		h.enqueueLedgerEvent(w, r, req)
		return
	}

	in := EventMutation{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Type:        req.Type,
		ReferenceID: req.ReferenceID,
		Description: req.Description,
	}

	var (
		tx  *Transaction
		err error
	)
	if req.Type == TransactionSpend {
		tx, err = h.Events.SpendFromEvent(r.Context(), in)
	} else {
		tx, err = h.Events.CreditFromEvent(r.Context(), in)
	}
	if err != nil {
		writeLedgerError(w, err, "Failed to post ledger event")
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Ledger event posted", tx)
}

func (h *Handler) enqueueLedgerEvent(w http.ResponseWriter, r *http.Request, req LedgerEventRequest) {
	if h.Publisher == nil {
		utils.BuildErrorResponse(w, http.StatusServiceUnavailable, "Event queue unavailable", nil)
		return
	}

	name, ok := eventNames[req.Type]
	if !ok {
		writeLedgerError(w, fmt.Errorf("%w: %q cannot be queued", ErrInvalidTransactionType, req.Type), "Failed to queue ledger event")
		return
	}
	if strings.TrimSpace(req.ReferenceID) == "" {
		writeLedgerError(w, ErrReferenceRequired, "Failed to queue ledger event")
		return
	}
	if err := validateAmount(req.Amount); err != nil {
		writeLedgerError(w, err, "Failed to queue ledger event")
		return
	}

	event := events.LedgerEvent{
		Event:       name,
		UserID:      req.UserID.String(),
		Amount:      req.Amount.StringFixed(amountScale),
		ReferenceID: req.ReferenceID,
		Description: req.Description,
		Timestamp:   time.Now(),
	}
	if err := h.Publisher.PublishEvent(r.Context(), event); err != nil {
		logger.Error("Failed to queue ledger event", logger.Merge(logger.Fields{logger.ReferenceKey: req.ReferenceID}, logger.WithError(err)))
		utils.BuildErrorResponse(w, http.StatusServiceUnavailable, "Failed to queue ledger event", nil)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusAccepted, "Ledger event queued", event)
}

func (h *Handler) writeUserTransactions(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	wallet, err := h.Projections.GetWallet(r.Context(), userID)
	if err != nil {
		writeLedgerError(w, err, "Failed to load wallet")
		return
	}
	h.writeTransactions(w, r, wallet)
}

func (h *Handler) writeTransactions(w http.ResponseWriter, r *http.Request, wallet *Wallet) {
	p := utils.GetPagination(r)
	page, err := h.Projections.ListTransactions(r.Context(), wallet.ID, Page{Limit: p.Limit, Offset: p.Offset, Before: p.Before})
	if err != nil {
		writeLedgerError(w, err, "Failed to fetch transactions")
		return
	}

	totalPages := int(math.Ceil(float64(page.Total) / float64(p.Limit)))

	utils.BuildSuccessResponse(w, http.StatusOK, "Transaction History", map[string]interface{}{
		"wallet_id":    wallet.ID,
		"balance":      wallet.Balance,
		"transactions": page.Transactions,
		"meta": map[string]interface{}{
			"total_items":  page.Total,
			"total_pages":  totalPages,
			"current_page": p.Page,
			"limit":        p.Limit,
		},
	})
}

func (h *Handler) writeTopUps(w http.ResponseWriter, r *http.Request, userID *uuid.UUID) {
	limit, offset, page := utils.GetPaginationDetails(r)
	filter := TopUpFilter{UserID: userID, Status: TopUpStatus(r.URL.Query().Get("status"))}

	result, err := h.Projections.ListTopUpRequests(r.Context(), filter, limit, offset)
	if err != nil {
		writeLedgerError(w, err, "Failed to fetch top-up requests")
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Top-up requests", map[string]interface{}{
		"requests": result.Requests,
		"meta": map[string]interface{}{
			"total_items":  result.Total,
			"total_pages":  int(math.Ceil(float64(result.Total) / float64(limit))),
			"current_page": page,
			"limit":        limit,
		},
	})
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	parsed, err := id.Parse(mux.Vars(r)[name])
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Invalid "+name, nil)
		return uuid.Nil, false
	}
	return parsed, true
}

func writeLedgerError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		utils.BuildErrorResponse(w, http.StatusForbidden, "Admin access required", nil)
	case IsNotFound(err):
		utils.BuildErrorResponse(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, ErrRequestNotPending):
		utils.BuildErrorResponse(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, ErrInsufficientBalance):
		utils.BuildErrorResponse(w, http.StatusUnprocessableEntity, err.Error(), nil)
	case IsClientError(err):
		utils.BuildErrorResponse(w, http.StatusBadRequest, err.Error(), nil)
	case IsRetryable(err):
		utils.BuildErrorResponse(w, http.StatusConflict, "Wallet is busy, please retry", nil)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		utils.BuildErrorResponse(w, http.StatusGatewayTimeout, "Request timed out, it is safe to retry", nil)
	default:
		logger.Error(fallback, logger.WithError(err))
		utils.BuildErrorResponse(w, http.StatusInternalServerError, fallback, nil)
	}
}
