package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-github-app/webhooks"
)

// DeliveryLedgerStore is the SQL-backed delivery ledger. Claims are decided
// inside a transaction so replicas racing on the same delivery id resolve to
// a single winner.
type DeliveryLedgerStore struct {
	db          *bun.DB
	repo        repository.Repository[*webhookDeliveryRecord]
	MaxAttempts int
	Now         func() time.Time
}

func NewDeliveryLedgerStore(db *bun.DB) (*DeliveryLedgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookDeliveryRecord](db, webhookDeliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook delivery repository wiring: %w", err)
		}
	}
	return &DeliveryLedgerStore{
		db:          db,
		repo:        repo,
		MaxAttempts: 8,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *DeliveryLedgerStore) Claim(ctx context.Context, deliveryID string, lease time.Duration) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, fmt.Errorf("sqlstore: delivery ledger store is not configured")
	}
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return "", false, fmt.Errorf("sqlstore: delivery id is required")
	}
	now := s.now()
	if lease <= 0 {
		lease = 30 * time.Second
	}
	leaseExpiresAt := now.Add(lease)

	var claimID string
	accepted := false
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findDeliveryTx(ctx, tx, deliveryID)
		if err != nil {
			return err
		}
		if record == nil {
			claimID = uuid.NewString()
			record = &webhookDeliveryRecord{
				ID:             uuid.NewString(),
				DeliveryID:     deliveryID,
				Status:         string(webhooks.DeliveryStatusProcessing),
				ClaimID:        claimID,
				Attempts:       1,
				LeaseExpiresAt: &leaseExpiresAt,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				if isUniqueViolation(insertErr) {
					// Another replica won the insert race.
					claimID = ""
					return nil
				}
				return insertErr
			}
			accepted = true
			return nil
		}

		switch webhooks.DeliveryStatus(record.Status) {
		case webhooks.DeliveryStatusProcessed, webhooks.DeliveryStatusDead:
			return nil
		case webhooks.DeliveryStatusProcessing:
			if record.LeaseExpiresAt != nil && now.Before(*record.LeaseExpiresAt) {
				return nil
			}
		case webhooks.DeliveryStatusRetryReady:
			if record.RetryAt != nil && now.Before(*record.RetryAt) {
				return nil
			}
		}

		if s.maxAttempts() > 0 && record.Attempts >= s.maxAttempts() {
			_, err := tx.NewUpdate().
				Model((*webhookDeliveryRecord)(nil)).
				Set("status = ?", string(webhooks.DeliveryStatusDead)).
				Set("claim_id = ''").
				Set("reason = ?", "attempt budget exhausted").
				Set("updated_at = ?", now).
				Where("id = ?", record.ID).
				Exec(ctx)
			return err
		}

		claimID = uuid.NewString()
		result, err := tx.NewUpdate().
			Model((*webhookDeliveryRecord)(nil)).
			Set("status = ?", string(webhooks.DeliveryStatusProcessing)).
			Set("claim_id = ?", claimID).
			Set("attempts = ?", record.Attempts+1).
			Set("lease_expires_at = ?", leaseExpiresAt).
			Set("retry_at = NULL").
			Set("updated_at = ?", now).
			Where("id = ?", record.ID).
			Where("claim_id = ?", record.ClaimID).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			// Lost the reclaim race to a concurrent transaction.
			claimID = ""
			return nil
		}
		accepted = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if !accepted {
		return "", false, nil
	}
	return claimID, true, nil
}

func (s *DeliveryLedgerStore) MarkProcessed(ctx context.Context, claimID string) error {
	return s.resolveClaim(ctx, claimID, string(webhooks.DeliveryStatusProcessed), "", nil)
}

func (s *DeliveryLedgerStore) MarkRetryReady(ctx context.Context, claimID string, retryAt time.Time) error {
	if retryAt.IsZero() {
		retryAt = s.now()
	}
	retryAtUTC := retryAt.UTC()
	return s.resolveClaim(ctx, claimID, string(webhooks.DeliveryStatusRetryReady), "", &retryAtUTC)
}

func (s *DeliveryLedgerStore) MarkDead(ctx context.Context, claimID string, reason string) error {
	return s.resolveClaim(ctx, claimID, string(webhooks.DeliveryStatusDead), strings.TrimSpace(reason), nil)
}

// ListRetryReady returns the delivery ids whose retry time has passed,
// earliest first. A limit of zero or less returns all due ids.
func (s *DeliveryLedgerStore) ListRetryReady(ctx context.Context, limit int) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: delivery ledger store is not configured")
	}
	var records []webhookDeliveryRecord
	query := s.db.NewSelect().
		Model(&records).
		Column("delivery_id").
		Where("?TableAlias.status = ?", string(webhooks.DeliveryStatusRetryReady)).
		Where("(?TableAlias.retry_at IS NULL OR ?TableAlias.retry_at <= ?)", s.now()).
		OrderExpr("?TableAlias.retry_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.DeliveryID)
	}
	return ids, nil
}

// StatusOf reports the persisted status for a delivery.
func (s *DeliveryLedgerStore) StatusOf(ctx context.Context, deliveryID string) (webhooks.DeliveryStatus, bool, error) {
	if s == nil || s.db == nil {
		return "", false, fmt.Errorf("sqlstore: delivery ledger store is not configured")
	}
	record := &webhookDeliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.delivery_id = ?", strings.TrimSpace(deliveryID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return webhooks.DeliveryStatus(record.Status), true, nil
}

func (s *DeliveryLedgerStore) resolveClaim(ctx context.Context, claimID string, status string, reason string, retryAt *time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: delivery ledger store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("sqlstore: claim id is required")
	}
	query := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", status).
		Set("claim_id = ''").
		Set("lease_expires_at = NULL").
		Set("updated_at = ?", s.now()).
		Where("claim_id = ?", claimID).
		Where("status = ?", string(webhooks.DeliveryStatusProcessing))
	if reason != "" {
		query = query.Set("reason = ?", reason)
	}
	if retryAt != nil {
		query = query.Set("retry_at = ?", *retryAt)
	} else {
		query = query.Set("retry_at = NULL")
	}
	_, err := query.Exec(ctx)
	return err
}

func (s *DeliveryLedgerStore) maxAttempts() int {
	if s != nil && s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return 8
}

func (s *DeliveryLedgerStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func findDeliveryTx(ctx context.Context, tx bun.Tx, deliveryID string) (*webhookDeliveryRecord, error) {
	record := &webhookDeliveryRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.delivery_id = ?", deliveryID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var _ webhooks.DeliveryLedger = (*DeliveryLedgerStore)(nil)
