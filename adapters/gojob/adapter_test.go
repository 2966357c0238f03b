package gojob

import (
	"context"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-github-app/core"
)

type fakeEnqueuer struct {
	messages []*job.ExecutionMessage
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	f.messages = append(f.messages, msg)
	return nil
}

type fakeDelivery struct {
	message *job.ExecutionMessage
	acked   bool
	nacks   []queue.NackOptions
}

func (f *fakeDelivery) Message() *job.ExecutionMessage { return f.message }

func (f *fakeDelivery) Ack(context.Context) error {
	f.acked = true
	return nil
}

func (f *fakeDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	f.nacks = append(f.nacks, opts)
	return nil
}

func TestNewRedeliveryMessage_CarriesDeliveryID(t *testing.T) {
	msg := NewRedeliveryMessage("  delivery-9  ")
	if msg.JobID != JobIDRedeliver {
		t.Fatalf("expected redeliver job id, got %q", msg.JobID)
	}
	if msg.Parameters["delivery_id"] != "delivery-9" {
		t.Fatalf("expected trimmed delivery id parameter, got %v", msg.Parameters["delivery_id"])
	}
	if msg.IdempotencyKey != "delivery-9" {
		t.Fatalf("expected delivery id as idempotency key, got %q", msg.IdempotencyKey)
	}
}

func TestRetryPolicy_NormalizeAttemptBoundsRetries(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: time.Minute, DeadLetterOnMax: true}

	normalized := policy.NormalizeAttempt(core.JobNackOptions{Requeue: true, Delay: 5 * time.Minute}, 1)
	if normalized.Delay != time.Minute {
		t.Fatalf("expected delay clamped to 1m, got %s", normalized.Delay)
	}
	if !normalized.Requeue {
		t.Fatalf("expected requeue below the attempt budget")
	}

	normalized = policy.NormalizeAttempt(core.JobNackOptions{Requeue: true}, 3)
	if normalized.Requeue {
		t.Fatalf("expected no requeue at the attempt budget")
	}
	if !normalized.DeadLetter {
		t.Fatalf("expected dead letter at the attempt budget")
	}
}

func TestRetryPolicy_DefaultsToRequeueWhenUnresolved(t *testing.T) {
	normalized := RetryPolicy{}.NormalizeAttempt(core.JobNackOptions{}, 0)
	if !normalized.Requeue {
		t.Fatalf("expected requeue fallback")
	}
}

func TestEnqueuerAdapter_MapsMessage(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	adapter := NewEnqueuerAdapter(enqueuer)

	err := adapter.Enqueue(context.Background(), NewRedeliveryMessage("delivery-9"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(enqueuer.messages) != 1 {
		t.Fatalf("expected 1 enqueued message, got %d", len(enqueuer.messages))
	}
	if enqueuer.messages[0].JobID != JobIDRedeliver {
		t.Fatalf("expected mapped job id, got %q", enqueuer.messages[0].JobID)
	}
	if enqueuer.messages[0].IdempotencyKey != "delivery-9" {
		t.Fatalf("expected mapped idempotency key, got %q", enqueuer.messages[0].IdempotencyKey)
	}
}

func TestEnqueuerAdapter_RequiresConfiguration(t *testing.T) {
	var adapter *EnqueuerAdapter
	if err := adapter.Enqueue(context.Background(), NewRedeliveryMessage("x")); err == nil {
		t.Fatalf("expected error from unconfigured adapter")
	}
	if err := NewEnqueuerAdapter(&fakeEnqueuer{}).Enqueue(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil message")
	}
}

func TestDeliveryAdapter_NackAppliesRetryPolicy(t *testing.T) {
	delivery := &fakeDelivery{message: &job.ExecutionMessage{JobID: JobIDRedeliver}}
	adapter := NewDeliveryAdapter(delivery, RetryPolicy{MaxAttempts: 2, DeadLetterOnMax: true})

	if err := adapter.NackForAttempt(context.Background(), core.JobNackOptions{Requeue: true}, 2); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if len(delivery.nacks) != 1 {
		t.Fatalf("expected 1 nack, got %d", len(delivery.nacks))
	}
	if delivery.nacks[0].Requeue || !delivery.nacks[0].DeadLetter {
		t.Fatalf("expected dead-lettered nack, got %+v", delivery.nacks[0])
	}

	msg := adapter.Message()
	if msg == nil || msg.JobID != JobIDRedeliver {
		t.Fatalf("expected mapped message, got %+v", msg)
	}
}

func TestExecutionMessage_RoundTrip(t *testing.T) {
	original := &core.JobExecutionMessage{
		JobID:          JobIDExchangeToken,
		Parameters:     map[string]any{"installation_id": int64(42)},
		IdempotencyKey: "exchange-42",
		DedupPolicy:    "drop",
	}
	mapped := FromExecutionMessage(ToExecutionMessage(original))
	if mapped.JobID != original.JobID {
		t.Fatalf("expected job id preserved, got %q", mapped.JobID)
	}
	if mapped.Parameters["installation_id"] != int64(42) {
		t.Fatalf("expected parameters preserved, got %v", mapped.Parameters)
	}
	if mapped.DedupPolicy != "drop" {
		t.Fatalf("expected dedup policy preserved, got %q", mapped.DedupPolicy)
	}
}
