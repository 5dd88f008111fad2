package wallet

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/zjoart/go-cleaner-wallet/pkg/events"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB opens a private in-memory database. A single connection
// serializes transactions the way row locks do on Postgres.
func newTestDB(t *testing.T) *gorm.DB {
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

	require.NoError(t, db.AutoMigrate(Models()...))
	return db
}

// fakeAuthorizer doubles as the user directory: every id exists unless it
// was marked unknown.
type fakeAuthorizer struct {
	admins  map[uuid.UUID]bool
	unknown map[uuid.UUID]bool
}

func newFakeAuthorizer(admins ...uuid.UUID) *fakeAuthorizer {
	a := &fakeAuthorizer{admins: make(map[uuid.UUID]bool), unknown: make(map[uuid.UUID]bool)}
	for _, id := range admins {
		a.admins[id] = true
	}
	return a
}

func (a *fakeAuthorizer) IsAdmin(_ context.Context, userID uuid.UUID) (bool, error) {
	return a.admins[userID], nil
}

func (a *fakeAuthorizer) UserExists(_ context.Context, userID uuid.UUID) (bool, error) {
	return !a.unknown[userID], nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *recordingNotifier) NotifyBalance(context.Context, events.BalanceNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	return nil
}

func (n *recordingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

type ledgerFixture struct {
	DB          *gorm.DB
	Repo        Repository
	Mutator     *Mutator
	TopUps      *TopUpService
	Admin       *AdminGateway
	Events      *EventLedger
	Projections *Projections
	Notifier    *recordingNotifier
	Auth        *fakeAuthorizer
	AdminID     uuid.UUID
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()

	db := newTestDB(t)
	repo := NewRepository(db)
	notifier := &recordingNotifier{}
	adminID := uuid.New()
	auth := newFakeAuthorizer(adminID)

	mutator := NewMutator(repo, Policy{Currency: "USD"}, notifier)
	return &ledgerFixture{
		DB:          db,
		Repo:        repo,
		Mutator:     mutator,
		TopUps:      NewTopUpService(repo, mutator, auth, notifier, "USD", decimal.NewFromInt(1)),
		Admin:       NewAdminGateway(repo, mutator, auth, auth, notifier),
		Events:      NewEventLedger(mutator, auth),
		Projections: NewProjections(repo, "USD"),
		Notifier:    notifier,
		Auth:        auth,
		AdminID:     adminID,
	}
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireAmount(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	require.Truef(t, amount(expected).Equal(actual), "expected %s, got %s", expected, actual.String())
}

// requireConsistent checks the wallet's balance equals the sum of its
// history and each row's balance_after is the running total.
func requireConsistent(t *testing.T, f *ledgerFixture, userID uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	w, err := f.Repo.GetWalletByUserID(ctx, userID)
	require.NoError(t, err)

	report, err := f.Projections.Reconcile(ctx, w.ID)
	require.NoError(t, err)
	require.True(t, report.Consistent, "reconcile report: %+v", report)

	txs, err := f.Repo.GetTransactions(ctx, w.ID, Page{Limit: 1000})
	require.NoError(t, err)

	running := decimal.Zero
	for i := len(txs) - 1; i >= 0; i-- {
		running = running.Add(txs[i].Amount)
		require.Truef(t, running.Equal(txs[i].BalanceAfter), "sequence %d: running %s, balance_after %s",
			txs[i].Sequence, running, txs[i].BalanceAfter)
		require.Equal(t, int64(len(txs)-i), txs[i].Sequence)
	}
}
