// Package sqlstore persists the delivery ledger and rate-limit state in a
// relational database so they survive restarts and are shared across
// replicas.
package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:webhook_deliveries,alias:wd"`

	ID             string     `bun:"id,pk"`
	DeliveryID     string     `bun:"delivery_id,notnull"`
	Status         string     `bun:"status,notnull"`
	ClaimID        string     `bun:"claim_id"`
	Attempts       int        `bun:"attempts,notnull"`
	Reason         string     `bun:"reason"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at,nullzero"`
	RetryAt        *time.Time `bun:"retry_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:rate_limit_states,alias:rls"`

	ID             string     `bun:"id,pk"`
	InstallationID int64      `bun:"installation_id,notnull"`
	Bucket         string     `bun:"bucket,notnull"`
	RateLimit      int        `bun:"rate_limit,notnull"`
	Remaining      int        `bun:"remaining,notnull"`
	LastStatus     int        `bun:"last_status,notnull"`
	ResetAt        *time.Time `bun:"reset_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
