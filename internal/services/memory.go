package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/markjakearzadon/propertypay-gobackend/internal/models"
)

// MemoryTransactionStore keeps transactions in process. It honors the same
// compare-and-set contract as the Mongo store.
type MemoryTransactionStore struct {
	mu  sync.Mutex
	txs map[string]models.PaymentTransaction
}

func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{txs: make(map[string]models.PaymentTransaction)}
}

func (s *MemoryTransactionStore) Insert(_ context.Context, tx *models.PaymentTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.txs[tx.ID]; exists {
		return fmt.Errorf("insert transaction: duplicate id %s", tx.ID)
	}
	s.txs[tx.ID] = *tx
	return nil
}

func (s *MemoryTransactionStore) Get(_ context.Context, id string) (*models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &tx, nil
}

func (s *MemoryTransactionStore) Transition(_ context.Context, id string, from, to models.TransactionStatus, verifiedAt time.Time, response string) (*models.PaymentTransaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if tx.Status != from {
		return &tx, false, nil
	}
	at := verifiedAt
	tx.Status = to
	tx.VerifiedAt = &at
	tx.ProviderResponse = response
	tx.UpdatedAt = verifiedAt
	s.txs[id] = tx
	return &tx, true, nil
}

func (s *MemoryTransactionStore) RecordCheck(_ context.Context, id string, verifiedAt time.Time, response string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	at := verifiedAt
	tx.VerifiedAt = &at
	tx.ProviderResponse = response
	tx.UpdatedAt = verifiedAt
	s.txs[id] = tx
	return nil
}

func (s *MemoryTransactionStore) MarkSideEffectApplied(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok || tx.SideEffectAppliedAt != nil {
		return nil
	}
	stamp := at
	tx.SideEffectAppliedAt = &stamp
	tx.UpdatedAt = at
	s.txs[id] = tx
	return nil
}

func (s *MemoryTransactionStore) ListByRequester(_ context.Context, requesterID string, status models.TransactionStatus) ([]models.PaymentTransaction, error) {
	return s.filter(func(tx models.PaymentTransaction) bool {
		return tx.RequesterID == requesterID && (status == "" || tx.Status == status)
	}, false, 200), nil
}

func (s *MemoryTransactionStore) ListPending(_ context.Context, createdBefore time.Time, limit int64) ([]models.PaymentTransaction, error) {
	return s.filter(func(tx models.PaymentTransaction) bool {
		return tx.Status == models.StatusPending && !tx.CreatedAt.After(createdBefore)
	}, true, int(limit)), nil
}

func (s *MemoryTransactionStore) filter(keep func(models.PaymentTransaction) bool, ascending bool, limit int) []models.PaymentTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.PaymentTransaction{}
	for _, tx := range s.txs {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if ascending {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type usageKey struct {
	userID      string
	month, year int
}

// MemoryMarketplace implements the sponsorship, subscription and usage stores in process.
type MemoryMarketplace struct {
	mu              sync.Mutex
	Listings        map[string]models.Listing
	Packages        map[string]models.SponsorshipPackage
	Sponsorships    map[string]models.Sponsorship
	Subscriptions   map[string]models.UserSubscription
	ListingPayments map[string]models.ListingPayment
	usage           map[usageKey]models.MonthlyListingUsage
}

func NewMemoryMarketplace() *MemoryMarketplace {
	return &MemoryMarketplace{
		Listings:        make(map[string]models.Listing),
		Packages:        make(map[string]models.SponsorshipPackage),
		Sponsorships:    make(map[string]models.Sponsorship),
		Subscriptions:   make(map[string]models.UserSubscription),
		ListingPayments: make(map[string]models.ListingPayment),
		usage:           make(map[usageKey]models.MonthlyListingUsage),
	}
}

func (m *MemoryMarketplace) AddListing(l models.Listing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Listings[l.ID] = l
}

func (m *MemoryMarketplace) AddPackage(p models.SponsorshipPackage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Packages[p.ID] = p
}

func (m *MemoryMarketplace) Listing(id string) (models.Listing, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.Listings[id]
	return l, ok
}

// ActiveSubscriptions returns the user's active subscriptions.
func (m *MemoryMarketplace) ActiveSubscriptions(userID string) []models.UserSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.UserSubscription
	for _, sub := range m.Subscriptions {
		if sub.UserID == userID && sub.IsActive {
			out = append(out, sub)
		}
	}
	return out
}

func (m *MemoryMarketplace) GetPackage(_ context.Context, id string) (*models.SponsorshipPackage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Packages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, id)
	}
	return &p, nil
}

func (m *MemoryMarketplace) RecordSponsorship(_ context.Context, s *models.Sponsorship) (*models.Sponsorship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.Sponsorships[s.TransactionID]; ok {
		return &existing, nil
	}
	m.Sponsorships[s.TransactionID] = *s
	stored := *s
	return &stored, nil
}

func (m *MemoryMarketplace) SponsorListing(_ context.Context, listingID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.Listings[listingID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrListingNotFound, listingID)
	}
	u := until
	l.IsSponsored = true
	l.SponsoredUntil = &u
	m.Listings[listingID] = l
	return nil
}

func (m *MemoryMarketplace) DeactivateSubscriptions(_ context.Context, userID, exceptTransactionID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, sub := range m.Subscriptions {
		if sub.UserID != userID || !sub.IsActive || sub.TransactionID == exceptTransactionID {
			continue
		}
		sub.IsActive = false
		sub.UpdatedAt = at
		m.Subscriptions[key] = sub
		n++
	}
	return n, nil
}

func (m *MemoryMarketplace) ActivateSubscription(_ context.Context, sub *models.UserSubscription) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Subscriptions[sub.TransactionID]; ok {
		return false, nil
	}
	if sub.IsActive {
		for _, other := range m.Subscriptions {
			if other.UserID == sub.UserID && other.IsActive {
				return false, fmt.Errorf("%w: user %s", ErrSubscriptionConflict, sub.UserID)
			}
		}
	}
	m.Subscriptions[sub.TransactionID] = *sub
	return true, nil
}

func (m *MemoryMarketplace) RecordListingPayment(_ context.Context, p *models.ListingPayment) (*models.ListingPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.ListingPayments[p.TransactionID]; ok {
		return &existing, nil
	}
	stored := *p
	stored.UsageCounted = false
	m.ListingPayments[p.TransactionID] = stored
	return &stored, nil
}

func (m *MemoryMarketplace) IncrementPaidListings(_ context.Context, userID string, month, year int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := usageKey{userID: userID, month: month, year: year}
	u := m.usage[key]
	u.UserID, u.Month, u.Year = userID, month, year
	u.PaidListingsUsed++
	u.UpdatedAt = at
	m.usage[key] = u
	return nil
}

func (m *MemoryMarketplace) MarkUsageCounted(_ context.Context, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.ListingPayments[transactionID]; ok {
		p.UsageCounted = true
		m.ListingPayments[transactionID] = p
	}
	return nil
}

func (m *MemoryMarketplace) GetUsage(_ context.Context, userID string, month, year int) (*models.MonthlyListingUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.usage[usageKey{userID: userID, month: month, year: year}]
	if !ok {
		u = models.MonthlyListingUsage{UserID: userID, Month: month, Year: year}
	}
	return &u, nil
}

type MemoryProfileStore struct {
	mu    sync.Mutex
	users map[string]models.User
}

func NewMemoryProfileStore(users ...models.User) *MemoryProfileStore {
	s := &MemoryProfileStore{users: make(map[string]models.User)}
	for _, u := range users {
		s.users[u.ID.Hex()] = u
	}
	return s
}

func (s *MemoryProfileStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return &u, nil
}
