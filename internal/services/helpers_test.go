package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markjakearzadon/propertypay-gobackend/internal/models"
)

type fakeGateway struct {
	mu        sync.Mutex
	status    string
	checkErr  error
	chargeErr error
	checks    int
	charges   []ChargeRequest
}

func (g *fakeGateway) CreatePayment(_ context.Context, req ChargeRequest) (*ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	g.charges = append(g.charges, req)
	return &ChargeResult{
		PaymentURL:   "https://checkout.example.com/pay/" + req.TransactionID,
		PaymentToken: "tok-" + req.TransactionID,
	}, nil
}

func (g *fakeGateway) CheckPayment(_ context.Context, transactionID string) (*CheckResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checks++
	if g.checkErr != nil {
		return nil, g.checkErr
	}
	raw := fmt.Sprintf(`{"code":"00","data":{"status":%q,"transaction_id":%q}}`, g.status, transactionID)
	return &CheckResult{Code: "00", Status: g.status, Raw: []byte(raw)}, nil
}

func (g *fakeGateway) setStatus(status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = status
}

func (g *fakeGateway) checkCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checks
}

type countingApplier struct {
	calls atomic.Int64
	err   error
}

func (a *countingApplier) Apply(context.Context, *models.PaymentTransaction) error {
	a.calls.Add(1)
	return a.err
}

type engineFixture struct {
	engine   *ReconciliationService
	store    *MemoryTransactionStore
	gateway  *fakeGateway
	alerts   *RecordingAlerter
	appliers map[models.Purpose]*countingApplier
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:    NewMemoryTransactionStore(),
		gateway:  &fakeGateway{status: "ACCEPTED"},
		alerts:   &RecordingAlerter{},
		appliers: map[models.Purpose]*countingApplier{},
	}
	registry := NewApplierRegistry()
	for _, p := range []models.Purpose{models.PurposeSponsorship, models.PurposeSubscription, models.PurposePaidListing} {
		a := &countingApplier{}
		f.appliers[p] = a
		registry.Register(p, a)
	}
	f.engine = NewReconciliationService(f.store, f.gateway, registry, f.alerts, zap.NewNop())
	return f
}

func seedPending(t *testing.T, store TransactionStore, id string, purpose models.Purpose) *models.PaymentTransaction {
	t.Helper()
	now := time.Now().UTC()
	tx := &models.PaymentTransaction{
		ID:            id,
		RequesterID:   "64f0c0ffee0000000000beef",
		Amount:        1000,
		Currency:      "XOF",
		PaymentMethod: "ORANGE_MONEY_CI",
		Purpose:       purpose,
		PhoneNumber:   "+2250102030405",
		Status:        models.StatusPending,
		PaymentURL:    "https://checkout.example.com/pay/" + id,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.Insert(context.Background(), tx))
	return tx
}
