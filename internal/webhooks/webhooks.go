// Package webhooks delivers CRM events to tenant-registered endpoints.
//
// Tenants can register webhook URLs to receive notifications about
// contact, deal, and task changes in their workspace. Payloads are
// signed with HMAC-SHA256 using a per-subscription secret.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/closedesk/closedesk/internal/security"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventContactCreated   EventType = "contact.created"
	EventContactUpdated   EventType = "contact.updated"
	EventDealCreated      EventType = "deal.created"
	EventDealUpdated      EventType = "deal.updated"
	EventDealStageChanged EventType = "deal.stage_changed"
	EventTaskCreated      EventType = "task.created"
	EventTaskCompleted    EventType = "task.completed"
)

// KnownEventTypes lists every event a subscription may ask for.
var KnownEventTypes = []EventType{
	EventContactCreated, EventContactUpdated,
	EventDealCreated, EventDealUpdated, EventDealStageChanged,
	EventTaskCreated, EventTaskCompleted,
}

// IsKnownEventType reports whether t is a deliverable event type.
func IsKnownEventType(t EventType) bool {
	for _, k := range KnownEventTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Event represents a webhook event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	TenantID  string                 `json:"tenantId"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscription represents a webhook subscription
type Subscription struct {
	ID                  string      `json:"id"`
	TenantID            string      `json:"tenantId"`
	URL                 string      `json:"url"`
	Secret              string      `json:"-"` // Used for HMAC signing
	Events              []EventType `json:"events"`
	Active              bool        `json:"active"`
	CreatedAt           time.Time   `json:"createdAt"`
	LastSuccess         *time.Time  `json:"lastSuccess,omitempty"`
	LastError           string      `json:"lastError,omitempty"`
	ConsecutiveFailures int         `json:"-"`
}

// maxConsecutiveFailures disables a subscription after this many
// delivery failures in a row.
const maxConsecutiveFailures = 20

// Store persists webhook subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// ErrSubscriptionNotFound is returned when a subscription id is unknown.
var ErrSubscriptionNotFound = fmt.Errorf("webhook subscription not found")

// Dispatcher sends webhook events
type Dispatcher struct {
	store           Store
	client          *http.Client
	deliveryTimeout time.Duration
	urlValidator    func(string) error // SSRF guard, overridable in tests
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		deliveryTimeout: 30 * time.Second,
		urlValidator:    security.ValidateEndpointURL,
	}
}

// DispatchToTenant sends an event to every active subscription of the
// tenant that listens for its type. Deliveries run async so callers on
// the request path never block on slow endpoints.
func (d *Dispatcher) DispatchToTenant(ctx context.Context, tenantID string, event *Event) error {
	subs, err := d.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to get subscriptions: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		for _, et := range sub.Events {
			if et == event.Type {
				go d.deliver(sub, event)
				break
			}
		}
	}

	return nil
}

// deliver runs one async delivery under its own deadline. The caller's
// context is deliberately not reused: it is request-scoped and would be
// cancelled while the delivery is still in flight, counting healthy
// endpoints toward the auto-disable threshold.
func (d *Dispatcher) deliver(sub *Subscription, event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.deliveryTimeout)
	defer cancel()
	d.send(ctx, sub, event)
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) {
	if err := d.urlValidator(sub.URL); err != nil {
		d.updateError(ctx, sub, fmt.Sprintf("blocked url: %v", err))
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.updateError(ctx, sub, "failed to marshal event")
		return
	}

	req, err := http.NewRequestWithContext(ctx, "POST", sub.URL, bytes.NewReader(payload))
	if err != nil {
		d.updateError(ctx, sub, "failed to create request")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Closedesk-Event", string(event.Type))
	req.Header.Set("X-Closedesk-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))

	// Sign the payload if secret is set
	if sub.Secret != "" {
		signature := d.sign(payload, sub.Secret)
		req.Header.Set("X-Closedesk-Signature", signature)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.updateError(ctx, sub, fmt.Sprintf("request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.updateSuccess(ctx, sub)
	} else {
		d.updateError(ctx, sub, fmt.Sprintf("status %d", resp.StatusCode))
	}
}

func (d *Dispatcher) sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	_ = d.store.Update(ctx, sub)
}

func (d *Dispatcher) updateError(ctx context.Context, sub *Subscription, errMsg string) {
	sub.LastError = errMsg
	sub.ConsecutiveFailures++
	if sub.ConsecutiveFailures >= maxConsecutiveFailures {
		sub.Active = false
	}
	_ = d.store.Update(ctx, sub)
}

// MemoryStore is an in-memory implementation for testing. Like a real
// database it hands out copies, so concurrent deliveries never share a
// *Subscription.
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

func cloneSubscription(sub *Subscription) *Subscription {
	c := *sub
	return &c
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = cloneSubscription(sub)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		return cloneSubscription(sub), nil
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemoryStore) ListByTenant(ctx context.Context, tenantID string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.TenantID == tenantID {
			result = append(result, cloneSubscription(sub))
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = cloneSubscription(sub)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}
