package billing

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// CatalogRecord mirrors a provider product or price, keyed by the
// provider's own id.
type CatalogRecord struct {
	ProviderID string          `json:"providerId" gorm:"column:provider_id;primaryKey"`
	Kind       string          `json:"kind"       gorm:"column:kind"`
	Payload    json.RawMessage `json:"payload"    gorm:"column:payload;type:jsonb"`
	UpdatedAt  time.Time       `json:"updatedAt"  gorm:"column:updated_at"`
}

// TableName maps CatalogRecord onto the billing_catalog table.
func (CatalogRecord) TableName() string { return "billing_catalog" }

// SubscriptionStatus tracks one subscription's current state, keyed by the
// provider's subscription id.
type SubscriptionStatus struct {
	SubscriptionID string    `json:"subscriptionId" gorm:"column:subscription_id;primaryKey"`
	CustomerID     string    `json:"customerId"     gorm:"column:customer_id"`
	Status         string    `json:"status"         gorm:"column:status"`
	UpdatedAt      time.Time `json:"updatedAt"      gorm:"column:updated_at"`
}

// TableName maps SubscriptionStatus onto the billing_subscriptions table.
func (SubscriptionStatus) TableName() string { return "billing_subscriptions" }

// Store persists the state synced from provider webhook events. Both
// operations are idempotent upserts; UpsertSubscription reports whether the
// record was newly created rather than updated.
type Store interface {
	UpsertCatalogRecord(ctx context.Context, rec CatalogRecord) error
	UpsertSubscription(ctx context.Context, sub SubscriptionStatus) (created bool, err error)
}

// MemoryStore is an in-process Store for tests and development.
type MemoryStore struct {
	mu            sync.Mutex
	catalog       map[string]CatalogRecord
	subscriptions map[string]SubscriptionStatus
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		catalog:       make(map[string]CatalogRecord),
		subscriptions: make(map[string]SubscriptionStatus),
	}
}

// UpsertCatalogRecord inserts or replaces the record for its provider id.
func (m *MemoryStore) UpsertCatalogRecord(_ context.Context, rec CatalogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.UpdatedAt = time.Now()
	m.catalog[rec.ProviderID] = rec
	return nil
}

// UpsertSubscription inserts or replaces the record for its subscription id.
func (m *MemoryStore) UpsertSubscription(_ context.Context, sub SubscriptionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.subscriptions[sub.SubscriptionID]
	sub.UpdatedAt = time.Now()
	m.subscriptions[sub.SubscriptionID] = sub
	return !exists, nil
}

// CatalogRecord returns the stored record for a provider id, if any.
func (m *MemoryStore) CatalogRecord(providerID string) (CatalogRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.catalog[providerID]
	return rec, ok
}

// Subscription returns the stored status for a subscription id, if any.
func (m *MemoryStore) Subscription(subscriptionID string) (SubscriptionStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[subscriptionID]
	return sub, ok
}
