package core

import (
	"fmt"
	"strings"
	"time"
)

// AppIdentity is the process-wide App credential material. It is loaded once
// at startup and never mutated; packages receive it by value.
type AppIdentity struct {
	AppID      int64
	PrivateKey []byte
}

func (i AppIdentity) Validate() error {
	if i.AppID <= 0 {
		return fmt.Errorf("core: app id is required")
	}
	if len(i.PrivateKey) == 0 {
		return fmt.Errorf("core: app private key is required")
	}
	return nil
}

// Assertion is a short-lived signed token proving App identity. It is minted
// fresh per exchange and never persisted.
type Assertion struct {
	Token     string
	Issuer    int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// InstallationToken is a tenant-scoped access token obtained by exchanging an
// Assertion. It is owned by the dispatch that requested it and must not be
// reused across installations.
type InstallationToken struct {
	InstallationID int64
	Token          string
	ExpiresAt      time.Time
}

type InboundRequest struct {
	DeliveryID string
	EventType  string
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type InboundResult struct {
	Accepted   bool
	StatusCode int
	Metadata   map[string]any
}

const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// DispatchOutcome is produced once per inbound delivery and surfaced to the
// HTTP boundary as a response code.
type DispatchOutcome struct {
	Status  string
	Reason  string
	Handled bool
	// PartialFailures lists handler-level errors that were isolated and did
	// not fail the dispatch.
	PartialFailures []string
}

func (o DispatchOutcome) Rejected() bool {
	return o.Status == OutcomeRejected
}

func (o DispatchOutcome) Failed() bool {
	return o.Status == OutcomeFailed
}

// RateLimitKey identifies a rate-limit bucket for persisted throttle state.
type RateLimitKey struct {
	InstallationID int64
	Bucket         string
}

func (k RateLimitKey) Normalize() RateLimitKey {
	return RateLimitKey{
		InstallationID: k.InstallationID,
		Bucket:         strings.TrimSpace(strings.ToLower(k.Bucket)),
	}
}

func (k RateLimitKey) Validate() error {
	if strings.TrimSpace(k.Bucket) == "" {
		return fmt.Errorf("core: rate limit bucket is required")
	}
	return nil
}

type TransportRequest struct {
	Method               string
	URL                  string
	Query                map[string]string
	Headers              map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}
