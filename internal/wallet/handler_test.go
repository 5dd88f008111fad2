package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zjoart/go-cleaner-wallet/internal/user"
	"github.com/zjoart/go-cleaner-wallet/pkg/config"
	"github.com/zjoart/go-cleaner-wallet/pkg/events"
	"github.com/zjoart/go-cleaner-wallet/pkg/utils"
)

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type capturePublisher struct {
	published []events.LedgerEvent
}

func (p *capturePublisher) PublishEvent(_ context.Context, event events.LedgerEvent) error {
	p.published = append(p.published, event)
	return nil
}

type handlerFixture struct {
	*ledgerFixture
	Router    *mux.Router
	Publisher *capturePublisher
}

// newHandlerFixture routes requests as the user in the X-Test-User header.
func newHandlerFixture(t *testing.T) *handlerFixture {
	f := newLedgerFixture(t)
	pub := &capturePublisher{}
	h := NewHandler(config.Config{Currency: "USD"}, f.Projections, f.TopUps, f.Admin, f.Events, pub)

	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			id, err := uuid.Parse(req.Header.Get("X-Test-User"))
			if err == nil {
				ctx := context.WithValue(req.Context(), utils.UserKey, user.User{ID: id})
				req = req.WithContext(ctx)
			}
			next.ServeHTTP(w, req)
		})
	})
	r.HandleFunc("/api/wallet", h.GetWallet).Methods("GET")
	r.HandleFunc("/api/wallet/transactions", h.GetTransactions).Methods("GET")
	r.HandleFunc("/api/wallet/topups", h.SubmitTopUp).Methods("POST")
	r.HandleFunc("/api/wallet/topups", h.ListMyTopUps).Methods("GET")
	r.HandleFunc("/api/admin/wallets/aggregate", h.GetAggregate).Methods("GET")
	r.HandleFunc("/api/admin/wallets/{user_id}", h.GetUserWallet).Methods("GET")
	r.HandleFunc("/api/admin/wallets/{user_id}/transactions", h.GetUserTransactions).Methods("GET")
	r.HandleFunc("/api/admin/wallets/{user_id}/reconcile", h.ReconcileUserWallet).Methods("GET")
	r.HandleFunc("/api/admin/wallets/{user_id}/credit", h.AdminCredit).Methods("POST")
	r.HandleFunc("/api/admin/wallets/{user_id}/debit", h.AdminDebit).Methods("POST")
	r.HandleFunc("/api/admin/ledgers/{wallet_id}/transactions", h.GetLedgerTransactions).Methods("GET")
	r.HandleFunc("/api/admin/topups", h.ListTopUps).Methods("GET")
	r.HandleFunc("/api/admin/topups/{id}/verify", h.VerifyTopUp).Methods("POST")
	r.HandleFunc("/api/admin/topups/{id}/reject", h.RejectTopUp).Methods("POST")
	r.HandleFunc("/api/admin/audit", h.ListAuditLog).Methods("GET")
	r.HandleFunc("/api/internal/ledger/events", h.PostLedgerEvent).Methods("POST")

	return &handlerFixture{ledgerFixture: f, Router: r, Publisher: pub}
}

func (f *handlerFixture) do(t *testing.T, method, path string, as uuid.UUID, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != uuid.Nil {
		req.Header.Set("X-Test-User", as.String())
	}

	rr := httptest.NewRecorder()
	f.Router.ServeHTTP(rr, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return rr, env
}

func TestHandler_TopUpLifecycle(t *testing.T) {
	f := newHandlerFixture(t)
	customer := uuid.New()

	rr, env := f.do(t, "POST", "/api/wallet/topups", customer, map[string]interface{}{
		"amount":         "50.00",
		"payment_method": "bank_transfer",
	})
	require.Equal(t, http.StatusCreated, rr.Code, env.Message)

	var req TopUpRequest
	require.NoError(t, json.Unmarshal(env.Data, &req))
	assert.Equal(t, TopUpPending, req.Status)

	rr, env = f.do(t, "POST", "/api/admin/topups/"+req.ID.String()+"/verify", f.AdminID, nil)
	require.Equal(t, http.StatusOK, rr.Code, env.Message)

	rr, _ = f.do(t, "POST", "/api/admin/topups/"+req.ID.String()+"/verify", f.AdminID, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr, env = f.do(t, "GET", "/api/wallet", customer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var w Wallet
	require.NoError(t, json.Unmarshal(env.Data, &w))
	requireAmount(t, "50", w.Balance)

	rr, env = f.do(t, "GET", "/api/wallet/transactions?limit=5", customer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var history struct {
		Transactions []Transaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history.Transactions, 1)
	assert.Equal(t, TransactionTopUp, history.Transactions[0].Type)
}

func TestHandler_SubmitTopUpAcceptsNumericAmount(t *testing.T) {
	f := newHandlerFixture(t)

	rr, env := f.do(t, "POST", "/api/wallet/topups", uuid.New(), map[string]interface{}{
		"amount":         20,
		"payment_method": "cash",
	})
	require.Equal(t, http.StatusCreated, rr.Code, env.Message)

	rr, _ = f.do(t, "POST", "/api/wallet/topups", uuid.New(), map[string]interface{}{
		"amount":         20,
		"payment_method": "crypto",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandler_RejectTopUp(t *testing.T) {
	f := newHandlerFixture(t)
	customer := uuid.New()
	req := submitTopUp(t, f.ledgerFixture, customer, "20")

	rr, _ := f.do(t, "POST", "/api/admin/topups/"+req.ID.String()+"/reject", f.AdminID, map[string]string{"reason": ""})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, env := f.do(t, "POST", "/api/admin/topups/"+req.ID.String()+"/reject", f.AdminID, map[string]string{"reason": "no proof of payment"})
	require.Equal(t, http.StatusOK, rr.Code, env.Message)

	rr, env = f.do(t, "GET", "/api/wallet/topups?status=rejected", customer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page struct {
		Requests []TopUpRequest `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Requests, 1)
	assert.Equal(t, req.ID, page.Requests[0].ID)
}

func TestHandler_AdminAdjustments(t *testing.T) {
	f := newHandlerFixture(t)
	target := uuid.New()
	base := "/api/admin/wallets/" + target.String()

	rr, env := f.do(t, "POST", base+"/credit", f.AdminID, map[string]string{"amount": "30", "description": "opening balance"})
	require.Equal(t, http.StatusOK, rr.Code, env.Message)

	rr, env = f.do(t, "POST", base+"/debit", f.AdminID, map[string]string{"amount": "10", "description": "fee correction"})
	require.Equal(t, http.StatusOK, rr.Code, env.Message)
	var tx Transaction
	require.NoError(t, json.Unmarshal(env.Data, &tx))
	requireAmount(t, "20", tx.BalanceAfter)

	rr, _ = f.do(t, "POST", base+"/debit", f.AdminID, map[string]string{"amount": "100", "description": "too much"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr, _ = f.do(t, "POST", base+"/credit", target, map[string]string{"amount": "100", "description": "self"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr, env = f.do(t, "GET", base+"/reconcile", f.AdminID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var report ReconcileReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.True(t, report.Consistent)

	rr, env = f.do(t, "GET", "/api/admin/wallets/aggregate?user_ids="+target.String(), f.AdminID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var agg Aggregate
	require.NoError(t, json.Unmarshal(env.Data, &agg))
	assert.Equal(t, int64(1), agg.WalletCount)
	requireAmount(t, "20", agg.TotalBalance)

	rr, _ = f.do(t, "GET", "/api/admin/wallets/aggregate?user_ids=not-a-uuid", f.AdminID, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, env = f.do(t, "GET", "/api/admin/audit", f.AdminID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var audit struct {
		Actions []AdminAction `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &audit))
	assert.Len(t, audit.Actions, 2)
}

func TestHandler_InvalidPathIDs(t *testing.T) {
	f := newHandlerFixture(t)

	rr, _ := f.do(t, "POST", "/api/admin/topups/not-a-uuid/verify", f.AdminID, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = f.do(t, "POST", "/api/admin/topups/"+uuid.NewString()+"/verify", f.AdminID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = f.do(t, "GET", "/api/admin/wallets/not-a-uuid", f.AdminID, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandler_PostLedgerEvent(t *testing.T) {
	f := newHandlerFixture(t)
	cleaner := uuid.New()

	body := map[string]interface{}{
		"user_id":      cleaner,
		"amount":       "42.00",
		"type":         "earning",
		"reference_id": "booking-100",
	}

	rr, env := f.do(t, "POST", "/api/internal/ledger/events", uuid.Nil, body)
	require.Equal(t, http.StatusOK, rr.Code, env.Message)
	var first Transaction
	require.NoError(t, json.Unmarshal(env.Data, &first))

	rr, env = f.do(t, "POST", "/api/internal/ledger/events", uuid.Nil, body)
	require.Equal(t, http.StatusOK, rr.Code)
	var replay Transaction
	require.NoError(t, json.Unmarshal(env.Data, &replay))
	assert.Equal(t, first.ID, replay.ID)

	body["type"] = "top_up"
	body["reference_id"] = "booking-101"
	rr, _ = f.do(t, "POST", "/api/internal/ledger/events", uuid.Nil, body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	body["type"] = "spend"
	body["amount"] = "2"
	rr, env = f.do(t, "POST", "/api/internal/ledger/events", uuid.Nil, body)
	require.Equal(t, http.StatusOK, rr.Code, env.Message)

	w, err := f.Projections.GetWallet(context.Background(), cleaner)
	require.NoError(t, err)
	requireAmount(t, "40", w.Balance)
}

func TestHandler_PostLedgerEventAsync(t *testing.T) {
	f := newHandlerFixture(t)
	cleaner := uuid.New()

	rr, env := f.do(t, "POST", "/api/internal/ledger/events?async=true", uuid.Nil, map[string]interface{}{
		"user_id":      cleaner,
		"amount":       "18.5",
		"type":         "refund",
		"reference_id": "booking-200",
	})
	require.Equal(t, http.StatusAccepted, rr.Code, env.Message)
	require.Len(t, f.Publisher.published, 1)

	queued := f.Publisher.published[0]
	assert.Equal(t, events.EventBookingRefunded, queued.Event)
	assert.Equal(t, "18.50", queued.Amount)
	assert.Equal(t, cleaner.String(), queued.UserID)

	rr, _ = f.do(t, "POST", "/api/internal/ledger/events?async=true", uuid.Nil, map[string]interface{}{
		"user_id":      cleaner,
		"amount":       "5",
		"type":         "admin_credit",
		"reference_id": "booking-201",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Len(t, f.Publisher.published, 1)
}

func TestHandler_LedgerTransactionsByWalletID(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 5; i++ {
		_, err := f.Mutator.Apply(ctx, Mutation{UserID: userID, Amount: amount("2"), Type: TransactionTopUp})
		require.NoError(t, err)
	}
	w, err := f.Repo.GetWalletByUserID(ctx, userID)
	require.NoError(t, err)

	rr, env := f.do(t, "GET", "/api/admin/ledgers/"+w.ID.String()+"/transactions?limit=2&before=3", f.AdminID, nil)
	require.Equal(t, http.StatusOK, rr.Code, env.Message)

	var history struct {
		Transactions []Transaction `json:"transactions"`
		Meta         struct {
			TotalItems int64 `json:"total_items"`
			TotalPages int   `json:"total_pages"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history.Transactions, 2)
	assert.Equal(t, int64(2), history.Transactions[0].Sequence)
	assert.Equal(t, int64(2), history.Meta.TotalItems)
	assert.Equal(t, 1, history.Meta.TotalPages)

	rr, _ = f.do(t, "GET", "/api/admin/ledgers/"+uuid.NewString()+"/transactions", f.AdminID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = f.do(t, "GET", "/api/admin/ledgers/not-a-uuid/transactions", f.AdminID, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
