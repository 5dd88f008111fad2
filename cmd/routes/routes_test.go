package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zjoart/go-cleaner-wallet/internal/user"
	"github.com/zjoart/go-cleaner-wallet/internal/wallet"
	"github.com/zjoart/go-cleaner-wallet/pkg/config"
	"github.com/zjoart/go-cleaner-wallet/pkg/database"
	"github.com/zjoart/go-cleaner-wallet/pkg/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const secret = "routes-test-secret"

type apiFixture struct {
	handler  http.Handler
	admin    user.User
	customer user.User
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db, append(wallet.Models(), &user.User{})...))

	admin := user.User{Name: "Ops", Email: "ops@example.com", Role: user.RoleAdmin}
	customer := user.User{Name: "Sam", Email: "sam@example.com", Role: user.RoleCustomer}
	users := user.NewRepository(db)
	require.NoError(t, users.CreateUser(&admin))
	require.NoError(t, users.CreateUser(&customer))

	cfg := config.Config{
		JWTSecret:          secret,
		Currency:           "USD",
		MinTopUpAmount:     decimal.NewFromInt(5),
		MaxActiveKeys:      5,
		TopUpRatePerMinute: 3,
		Env:                "production",
		AllowedOrigins:     []string{"*"},
	}

	return &apiFixture{
		handler:  RegisterRoutes(mux.NewRouter(), cfg, db, nil),
		admin:    admin,
		customer: customer,
	}
}

func bearer(t *testing.T, u user.User) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		utils.UserIDKey: u.ID.String(),
		utils.ExpKey:    time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func (f *apiFixture) call(t *testing.T, method, path, auth string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return rr.Code, resp
}

func TestTopUpFlowOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	customerAuth := bearer(t, f.customer)
	adminAuth := bearer(t, f.admin)

	code, resp := f.call(t, "POST", "/api/wallet/topups", customerAuth, map[string]string{
		"amount":         "50",
		"payment_method": "bank_transfer",
	})
	require.Equal(t, http.StatusCreated, code, resp["message"])
	requestID := resp["data"].(map[string]interface{})["id"].(string)

	code, _ = f.call(t, "POST", "/api/admin/topups/"+requestID+"/verify", customerAuth, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = f.call(t, "POST", "/api/admin/topups/"+requestID+"/verify", adminAuth, nil)
	require.Equal(t, http.StatusOK, code, resp["message"])

	code, resp = f.call(t, "GET", "/api/wallet", customerAuth, nil)
	require.Equal(t, http.StatusOK, code)
	balance := resp["data"].(map[string]interface{})["balance"].(string)
	assert.True(t, decimal.RequireFromString(balance).Equal(decimal.NewFromInt(50)), balance)

	code, resp = f.call(t, "GET", "/api/wallet/topups", customerAuth, nil)
	require.Equal(t, http.StatusOK, code)
	requests := resp["data"].(map[string]interface{})["requests"].([]interface{})
	require.Len(t, requests, 1)
	assert.Equal(t, "verified", requests[0].(map[string]interface{})["status"])

	code, resp = f.call(t, "GET", "/api/admin/wallets/"+f.customer.ID.String()+"/reconcile", adminAuth, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp["data"].(map[string]interface{})["consistent"])
}

func TestAuthBoundaries(t *testing.T) {
	f := newAPIFixture(t)

	code, _ := f.call(t, "GET", "/api/wallet", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.call(t, "GET", "/api/admin/topups", bearer(t, f.customer), nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = f.call(t, "GET", "/api/admin/topups", bearer(t, f.admin), nil)
	assert.Equal(t, http.StatusOK, code)

	// ledger events accept service keys only
	code, _ = f.call(t, "POST", "/api/internal/ledger/events", bearer(t, f.admin), map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestTopUpSubmissionIsRateLimited(t *testing.T) {
	f := newAPIFixture(t)
	auth := bearer(t, f.customer)
	body := map[string]string{"amount": "10", "payment_method": "cash"}

	for i := 0; i < 3; i++ {
		code, resp := f.call(t, "POST", "/api/wallet/topups", auth, body)
		require.Equal(t, http.StatusCreated, code, resp["message"])
	}

	code, _ := f.call(t, "POST", "/api/wallet/topups", auth, body)
	assert.Equal(t, http.StatusTooManyRequests, code)

	// reads are not throttled
	code, _ = f.call(t, "GET", "/api/wallet/topups", auth, nil)
	assert.Equal(t, http.StatusOK, code)
}
