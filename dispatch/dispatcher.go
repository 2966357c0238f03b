package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-github-app/core"
	"github.com/goliatone/go-github-app/webhooks"
)

// State names the stages a delivery moves through. Transitions are strictly
// forward; a delivery never re-enters an earlier state.
type State string

const (
	StateReceived  State = "received"
	StateVerified  State = "verified"
	StateRouted    State = "routed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateRejected  State = "rejected"
)

// Dispatcher drives a delivery from receipt to a terminal outcome: verify
// the signature, claim the delivery in the ledger, parse and route the
// event, obtain the installation credential, then run the matched handlers.
type Dispatcher struct {
	Verifier *webhooks.SignatureVerifier
	Registry *Registry
	Tokens   core.TokenSource
	// Ledger is optional; without one every redelivery is dispatched again.
	Ledger     webhooks.DeliveryLedger
	ClaimLease time.Duration
	Observer   core.Observer
	Now        func() time.Time
}

func NewDispatcher(verifier *webhooks.SignatureVerifier, registry *Registry, tokens core.TokenSource) *Dispatcher {
	return &Dispatcher{
		Verifier: verifier,
		Registry: registry,
		Tokens:   tokens,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Dispatch processes one delivery and returns its terminal outcome. The
// returned error is non-nil only for rejected deliveries and infrastructure
// failures; handler errors are folded into the outcome as partial failures.
func (d *Dispatcher) Dispatch(ctx context.Context, req core.InboundRequest) (core.DispatchOutcome, error) {
	if d == nil {
		return core.DispatchOutcome{}, dispatchInternal("dispatch: dispatcher is nil", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	startedAt := d.now()
	fields := map[string]any{
		"delivery_id":  req.DeliveryID,
		"github_event": req.EventType,
		"state":        string(StateReceived),
	}

	verification, err := d.verify(ctx, req)
	if err != nil {
		outcome := core.DispatchOutcome{Status: core.OutcomeRejected, Reason: "signature verification failed"}
		d.Observer.ObserveOperation(ctx, startedAt, "dispatch", err, fields)
		return outcome, err
	}
	fields["state"] = string(StateVerified)
	if verification.Skipped {
		fields["verification_skipped"] = true
	}

	claimID, proceed, err := d.claim(ctx, req)
	if err != nil {
		d.Observer.ObserveOperation(ctx, startedAt, "dispatch", err, fields)
		return core.DispatchOutcome{Status: core.OutcomeFailed, Reason: "delivery claim failed"}, err
	}
	if !proceed {
		outcome := core.DispatchOutcome{Status: core.OutcomeAccepted, Reason: "duplicate delivery"}
		d.Observer.ObserveOperation(ctx, startedAt, "dispatch", nil, fields)
		return outcome, nil
	}

	event, err := ParseEvent(req)
	if err != nil {
		d.markDead(ctx, claimID, "unparseable payload")
		d.Observer.ObserveOperation(ctx, startedAt, "dispatch", err, fields)
		return core.DispatchOutcome{Status: core.OutcomeFailed, Reason: "unparseable payload"}, err
	}
	fields["github_event"] = event.Type
	fields["routing_key"] = event.Key()
	if event.InstallationID > 0 {
		fields["installation_id"] = event.InstallationID
	}
	fields["state"] = string(StateRouted)

	handlers := d.handlersFor(event)
	if len(handlers) == 0 {
		d.markProcessed(ctx, claimID)
		outcome := core.DispatchOutcome{Status: core.OutcomeAccepted, Reason: "no handlers registered"}
		fields["state"] = string(StateCompleted)
		d.Observer.ObserveOperation(ctx, startedAt, "dispatch", nil, fields)
		return outcome, nil
	}

	token, err := d.credential(ctx, event)
	if err != nil {
		d.markRetryReady(ctx, claimID)
		fields["state"] = string(StateFailed)
		wrapped := dispatchWrapError(
			err,
			goerrors.CategoryExternal,
			"dispatch: obtain installation credential",
			http.StatusInternalServerError,
			core.AppErrorExchangeFailed,
			map[string]any{"delivery_id": event.DeliveryID, "installation_id": event.InstallationID},
		)
		d.Observer.ObserveOperation(ctx, startedAt, "dispatch", wrapped, fields)
		return core.DispatchOutcome{Status: core.OutcomeFailed, Reason: "credential exchange failed"}, wrapped
	}

	outcome := core.DispatchOutcome{Status: core.OutcomeAccepted, Handled: true}
	for _, handler := range handlers {
		if handlerErr := d.runHandler(ctx, handler, event, token); handlerErr != nil {
			outcome.PartialFailures = append(
				outcome.PartialFailures,
				fmt.Sprintf("%s: %v", handler.Name(), handlerErr),
			)
		}
	}
	d.markProcessed(ctx, claimID)
	fields["state"] = string(StateCompleted)
	if len(outcome.PartialFailures) > 0 {
		fields["partial_failures"] = len(outcome.PartialFailures)
	}
	d.Observer.ObserveOperation(ctx, startedAt, "dispatch", nil, fields)
	return outcome, nil
}

func (d *Dispatcher) verify(ctx context.Context, req core.InboundRequest) (webhooks.Verification, error) {
	if d.Verifier == nil {
		return webhooks.Verification{Skipped: true}, nil
	}
	return d.Verifier.Verify(ctx, req)
}

func (d *Dispatcher) claim(ctx context.Context, req core.InboundRequest) (string, bool, error) {
	if d.Ledger == nil {
		return "", true, nil
	}
	deliveryID, err := webhooks.ExtractDeliveryID(req)
	if err != nil {
		return "", false, err
	}
	return d.Ledger.Claim(ctx, deliveryID, d.claimLease())
}

// credential exchanges for an installation token before any handler runs.
// Events with no installation scope dispatch with a zero token.
func (d *Dispatcher) credential(ctx context.Context, event Event) (core.InstallationToken, error) {
	if d.Tokens == nil || event.InstallationID <= 0 {
		return core.InstallationToken{}, nil
	}
	return d.Tokens.Token(ctx, event.InstallationID)
}

func (d *Dispatcher) runHandler(ctx context.Context, handler Handler, event Event, token core.InstallationToken) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = dispatchError(
				fmt.Sprintf("dispatch: handler %s panicked: %v", handler.Name(), recovered),
				goerrors.CategoryOperation,
				http.StatusInternalServerError,
				core.AppErrorHandlerFailed,
				map[string]any{"handler": handler.Name(), "delivery_id": event.DeliveryID},
			)
		}
	}()
	if err := handler.Handle(ctx, event, token); err != nil {
		return dispatchWrapError(
			err,
			goerrors.CategoryOperation,
			"dispatch: handler execution failed",
			http.StatusInternalServerError,
			core.AppErrorHandlerFailed,
			map[string]any{"handler": handler.Name(), "delivery_id": event.DeliveryID},
		)
	}
	return nil
}

func (d *Dispatcher) handlersFor(event Event) []Handler {
	if d.Registry == nil {
		return nil
	}
	return d.Registry.HandlersFor(event)
}

func (d *Dispatcher) markProcessed(ctx context.Context, claimID string) {
	if d.Ledger == nil || claimID == "" {
		return
	}
	if err := d.Ledger.MarkProcessed(ctx, claimID); err != nil {
		d.Observer.LogError(ctx, "mark delivery processed", map[string]any{"claim_id": claimID, "error": err.Error()})
	}
}

func (d *Dispatcher) markRetryReady(ctx context.Context, claimID string) {
	if d.Ledger == nil || claimID == "" {
		return
	}
	if err := d.Ledger.MarkRetryReady(ctx, claimID, d.now()); err != nil {
		d.Observer.LogError(ctx, "mark delivery retry ready", map[string]any{"claim_id": claimID, "error": err.Error()})
	}
}

func (d *Dispatcher) markDead(ctx context.Context, claimID string, reason string) {
	if d.Ledger == nil || claimID == "" {
		return
	}
	if err := d.Ledger.MarkDead(ctx, claimID, reason); err != nil {
		d.Observer.LogError(ctx, "mark delivery dead", map[string]any{"claim_id": claimID, "error": err.Error()})
	}
}

func (d *Dispatcher) claimLease() time.Duration {
	if d != nil && d.ClaimLease > 0 {
		return d.ClaimLease
	}
	return 30 * time.Second
}

func (d *Dispatcher) now() time.Time {
	if d != nil && d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}
