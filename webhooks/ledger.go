package webhooks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-github-app/core"
)

type DeliveryStatus string

const (
	DeliveryStatusProcessing DeliveryStatus = "processing"
	DeliveryStatusProcessed  DeliveryStatus = "processed"
	DeliveryStatusRetryReady DeliveryStatus = "retry_ready"
	DeliveryStatusDead       DeliveryStatus = "dead"
)

const (
	defaultClaimLease  = 30 * time.Second
	defaultMaxAttempts = 8
)

// DeliveryLedger deduplicates webhook redeliveries. A delivery is claimed
// before dispatch; concurrent or repeated claims for the same delivery id are
// declined while a lease or terminal record is in force. Claims resolve to
// processed, retry_ready, or dead.
//
// The ledger tracks delivery ids and lifecycle state only; payloads are not
// persisted. Hosts driving redelivery enumerate due ids with ListRetryReady
// and source the payload themselves, typically by asking the platform to
// redeliver.
type DeliveryLedger interface {
	Claim(ctx context.Context, deliveryID string, lease time.Duration) (claimID string, accepted bool, err error)
	MarkProcessed(ctx context.Context, claimID string) error
	MarkRetryReady(ctx context.Context, claimID string, retryAt time.Time) error
	MarkDead(ctx context.Context, claimID string, reason string) error
	ListRetryReady(ctx context.Context, limit int) ([]string, error)
}

// ExtractDeliveryID resolves the delivery id from the request, preferring the
// explicit field over the platform's delivery header.
func ExtractDeliveryID(req core.InboundRequest) (string, error) {
	if value := strings.TrimSpace(req.DeliveryID); value != "" {
		return value, nil
	}
	if value := headerValue(req.Headers, "X-GitHub-Delivery"); value != "" {
		return value, nil
	}
	return "", webhookBadInput("webhooks: delivery id is required for dedupe", nil)
}

type deliveryEntry struct {
	DeliveryID     string
	Status         DeliveryStatus
	ClaimID        string
	Attempts       int
	Reason         string
	LeaseExpiresAt time.Time
	RetryAt        time.Time
}

// InMemoryDeliveryLedger is the process-local ledger. Hosts that run more
// than one replica use the SQL-backed ledger instead.
type InMemoryDeliveryLedger struct {
	MaxAttempts int
	Now         func() time.Time

	mu      sync.Mutex
	entries map[string]deliveryEntry
	claims  map[string]string
	nextID  int
}

func NewInMemoryDeliveryLedger() *InMemoryDeliveryLedger {
	return &InMemoryDeliveryLedger{
		MaxAttempts: defaultMaxAttempts,
		entries:     map[string]deliveryEntry{},
		claims:      map[string]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *InMemoryDeliveryLedger) Claim(_ context.Context, deliveryID string, lease time.Duration) (string, bool, error) {
	if l == nil {
		return "", false, webhookInternal("webhooks: delivery ledger is nil", nil)
	}
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return "", false, webhookBadInput("webhooks: delivery id is required", nil)
	}
	now := l.now()
	if lease <= 0 {
		lease = defaultClaimLease
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	entry, exists := l.entries[deliveryID]
	if !exists {
		claimID := l.nextClaimID()
		l.entries[deliveryID] = deliveryEntry{
			DeliveryID:     deliveryID,
			Status:         DeliveryStatusProcessing,
			ClaimID:        claimID,
			Attempts:       1,
			LeaseExpiresAt: now.Add(lease),
		}
		l.claims[claimID] = deliveryID
		return claimID, true, nil
	}

	switch entry.Status {
	case DeliveryStatusProcessed, DeliveryStatusDead:
		return "", false, nil
	case DeliveryStatusProcessing:
		if now.Before(entry.LeaseExpiresAt) {
			return "", false, nil
		}
	case DeliveryStatusRetryReady:
		if !entry.RetryAt.IsZero() && now.Before(entry.RetryAt) {
			return "", false, nil
		}
	}

	if l.maxAttempts() > 0 && entry.Attempts >= l.maxAttempts() {
		if entry.ClaimID != "" {
			delete(l.claims, entry.ClaimID)
		}
		entry.Status = DeliveryStatusDead
		entry.ClaimID = ""
		entry.Reason = "attempt budget exhausted"
		l.entries[deliveryID] = entry
		return "", false, nil
	}

	if entry.ClaimID != "" {
		delete(l.claims, entry.ClaimID)
	}
	claimID := l.nextClaimID()
	entry.Status = DeliveryStatusProcessing
	entry.ClaimID = claimID
	entry.Attempts++
	entry.LeaseExpiresAt = now.Add(lease)
	entry.RetryAt = time.Time{}
	l.entries[deliveryID] = entry
	l.claims[claimID] = deliveryID
	return claimID, true, nil
}

func (l *InMemoryDeliveryLedger) MarkProcessed(_ context.Context, claimID string) error {
	return l.resolve(claimID, func(entry *deliveryEntry) {
		entry.Status = DeliveryStatusProcessed
		entry.RetryAt = time.Time{}
	})
}

func (l *InMemoryDeliveryLedger) MarkRetryReady(_ context.Context, claimID string, retryAt time.Time) error {
	return l.resolve(claimID, func(entry *deliveryEntry) {
		if l.maxAttempts() > 0 && entry.Attempts >= l.maxAttempts() {
			entry.Status = DeliveryStatusDead
			entry.Reason = "attempt budget exhausted"
			return
		}
		if retryAt.IsZero() {
			retryAt = l.now()
		}
		entry.Status = DeliveryStatusRetryReady
		entry.RetryAt = retryAt.UTC()
	})
}

func (l *InMemoryDeliveryLedger) MarkDead(_ context.Context, claimID string, reason string) error {
	return l.resolve(claimID, func(entry *deliveryEntry) {
		entry.Status = DeliveryStatusDead
		entry.Reason = strings.TrimSpace(reason)
		entry.RetryAt = time.Time{}
	})
}

// ListRetryReady returns the delivery ids whose retry time has passed,
// earliest first. A limit of zero or less returns all due ids.
func (l *InMemoryDeliveryLedger) ListRetryReady(_ context.Context, limit int) ([]string, error) {
	if l == nil {
		return nil, webhookInternal("webhooks: delivery ledger is nil", nil)
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	var due []deliveryEntry
	for _, entry := range l.entries {
		if entry.Status != DeliveryStatusRetryReady {
			continue
		}
		if !entry.RetryAt.IsZero() && now.Before(entry.RetryAt) {
			continue
		}
		due = append(due, entry)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].RetryAt.Equal(due[j].RetryAt) {
			return due[i].DeliveryID < due[j].DeliveryID
		}
		return due[i].RetryAt.Before(due[j].RetryAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, 0, len(due))
	for _, entry := range due {
		ids = append(ids, entry.DeliveryID)
	}
	return ids, nil
}

// StatusOf reports the current ledger status for a delivery. Used by tests
// and operational tooling; absent deliveries return false.
func (l *InMemoryDeliveryLedger) StatusOf(deliveryID string) (DeliveryStatus, bool) {
	if l == nil {
		return "", false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[strings.TrimSpace(deliveryID)]
	if !ok {
		return "", false
	}
	return entry.Status, true
}

func (l *InMemoryDeliveryLedger) resolve(claimID string, apply func(entry *deliveryEntry)) error {
	if l == nil {
		return webhookInternal("webhooks: delivery ledger is nil", nil)
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return webhookBadInput("webhooks: claim id is required", nil)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	deliveryID, ok := l.claims[claimID]
	if !ok {
		return nil
	}
	entry, exists := l.entries[deliveryID]
	if !exists || entry.ClaimID != claimID || entry.Status != DeliveryStatusProcessing {
		delete(l.claims, claimID)
		return nil
	}
	entry.ClaimID = ""
	entry.LeaseExpiresAt = time.Time{}
	apply(&entry)
	l.entries[deliveryID] = entry
	delete(l.claims, claimID)
	return nil
}

func (l *InMemoryDeliveryLedger) maxAttempts() int {
	if l != nil && l.MaxAttempts > 0 {
		return l.MaxAttempts
	}
	return defaultMaxAttempts
}

func (l *InMemoryDeliveryLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *InMemoryDeliveryLedger) nextClaimID() string {
	l.nextID++
	return fmt.Sprintf("claim_%d", l.nextID)
}

var _ DeliveryLedger = (*InMemoryDeliveryLedger)(nil)
