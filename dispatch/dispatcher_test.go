package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-github-app/core"
	"github.com/goliatone/go-github-app/webhooks"
)

var testSecret = []byte("webhook-secret")

type recordingHandler struct {
	name   string
	err    error
	events []Event
	tokens []core.InstallationToken
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) Handle(_ context.Context, event Event, token core.InstallationToken) error {
	h.events = append(h.events, event)
	h.tokens = append(h.tokens, token)
	return h.err
}

type stubTokenSource struct {
	token core.InstallationToken
	err   error
	calls int
}

func (s *stubTokenSource) Token(_ context.Context, installationID int64) (core.InstallationToken, error) {
	s.calls++
	if s.err != nil {
		return core.InstallationToken{}, s.err
	}
	token := s.token
	token.InstallationID = installationID
	return token, nil
}

func signedRequest(t *testing.T, deliveryID, eventType string, body []byte) core.InboundRequest {
	t.Helper()
	return core.InboundRequest{
		DeliveryID: deliveryID,
		EventType:  eventType,
		Headers: map[string]string{
			"X-GitHub-Delivery":      deliveryID,
			"X-GitHub-Event":         eventType,
			webhooks.SignatureHeader: webhooks.Sign(testSecret, body),
		},
		Body: body,
	}
}

func testDispatcher(registry *Registry, tokens core.TokenSource) *Dispatcher {
	dispatcher := NewDispatcher(webhooks.NewSignatureVerifier(testSecret), registry, tokens)
	dispatcher.Now = func() time.Time { return time.Unix(1_700_000_000, 0).UTC() }
	return dispatcher
}

func TestDispatcher_InvalidSignatureIsRejectedBeforeRouting(t *testing.T) {
	handler := &recordingHandler{name: "issues"}
	registry := NewRegistry()
	if err := registry.Register(EventIssues, "opened", handler); err != nil {
		t.Fatalf("register: %v", err)
	}
	tokens := &stubTokenSource{}
	dispatcher := testDispatcher(registry, tokens)

	body := []byte(`{"action":"opened","issue":{"number":7},"installation":{"id":42}}`)
	req := signedRequest(t, "delivery-1", EventIssues, body)
	req.Headers[webhooks.SignatureHeader] = webhooks.Sign([]byte("wrong-secret"), body)

	outcome, err := dispatcher.Dispatch(context.Background(), req)
	if err == nil {
		t.Fatalf("expected verification error")
	}
	if !outcome.Rejected() {
		t.Fatalf("expected rejected outcome, got %q", outcome.Status)
	}
	if len(handler.events) != 0 {
		t.Fatalf("expected no handler invocations, got %d", len(handler.events))
	}
	if tokens.calls != 0 {
		t.Fatalf("expected no token exchange for rejected delivery, got %d", tokens.calls)
	}
}

func TestDispatcher_RoutedEventReachesHandlerWithToken(t *testing.T) {
	handler := &recordingHandler{name: "issues"}
	registry := NewRegistry()
	if err := registry.Register(EventIssues, "opened", handler); err != nil {
		t.Fatalf("register: %v", err)
	}
	tokens := &stubTokenSource{token: core.InstallationToken{Token: "ghs_dispatch"}}
	dispatcher := testDispatcher(registry, tokens)

	body := []byte(`{"action":"opened","issue":{"number":7},"installation":{"id":42},"repository":{"full_name":"octo/repo"}}`)
	outcome, err := dispatcher.Dispatch(context.Background(), signedRequest(t, "delivery-1", EventIssues, body))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Status != core.OutcomeAccepted || !outcome.Handled {
		t.Fatalf("expected handled accepted outcome, got %+v", outcome)
	}
	if len(handler.events) != 1 {
		t.Fatalf("expected 1 handler invocation, got %d", len(handler.events))
	}
	event := handler.events[0]
	if event.IssueNumber != 7 {
		t.Fatalf("expected issue number 7, got %d", event.IssueNumber)
	}
	if event.InstallationID != 42 {
		t.Fatalf("expected installation 42, got %d", event.InstallationID)
	}
	if event.Repository != "octo/repo" {
		t.Fatalf("expected repository, got %q", event.Repository)
	}
	if handler.tokens[0].Token != "ghs_dispatch" {
		t.Fatalf("expected installation token handed to handler, got %q", handler.tokens[0].Token)
	}
}

func TestDispatcher_ExchangeFailureFailsBeforeHandlers(t *testing.T) {
	handler := &recordingHandler{name: "issues"}
	registry := NewRegistry()
	_ = registry.Register(EventIssues, "", handler)
	tokens := &stubTokenSource{err: fmt.Errorf("platform unavailable")}
	dispatcher := testDispatcher(registry, tokens)

	body := []byte(`{"action":"opened","installation":{"id":42}}`)
	outcome, err := dispatcher.Dispatch(context.Background(), signedRequest(t, "delivery-1", EventIssues, body))
	if err == nil {
		t.Fatalf("expected exchange error")
	}
	if !outcome.Failed() {
		t.Fatalf("expected failed outcome, got %q", outcome.Status)
	}
	if len(handler.events) != 0 {
		t.Fatalf("expected no handler invocations after exchange failure, got %d", len(handler.events))
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected rich error, got %T", err)
	}
	if richErr.TextCode != core.AppErrorExchangeFailed {
		t.Fatalf("expected %s, got %s", core.AppErrorExchangeFailed, richErr.TextCode)
	}
}

func TestDispatcher_UnknownEventCompletesAsNoOp(t *testing.T) {
	registry := NewRegistry()
	_ = registry.Register(EventIssues, "opened", &recordingHandler{name: "issues"})
	tokens := &stubTokenSource{}
	dispatcher := testDispatcher(registry, tokens)

	body := []byte(`{"zen":"keep it logically awesome"}`)
	outcome, err := dispatcher.Dispatch(context.Background(), signedRequest(t, "delivery-1", "meta", body))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Status != core.OutcomeAccepted || outcome.Handled {
		t.Fatalf("expected accepted no-op outcome, got %+v", outcome)
	}
	if tokens.calls != 0 {
		t.Fatalf("expected no token exchange without handlers, got %d", tokens.calls)
	}
}

func TestDispatcher_HandlerFailuresAreIsolated(t *testing.T) {
	failing := &recordingHandler{name: "notifier", err: fmt.Errorf("downstream timeout")}
	healthy := &recordingHandler{name: "labeler"}
	registry := NewRegistry()
	_ = registry.Register(EventIssues, "opened", failing)
	_ = registry.Register(EventIssues, "opened", healthy)
	dispatcher := testDispatcher(registry, &stubTokenSource{})

	body := []byte(`{"action":"opened","installation":{"id":42}}`)
	outcome, err := dispatcher.Dispatch(context.Background(), signedRequest(t, "delivery-1", EventIssues, body))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Status != core.OutcomeAccepted {
		t.Fatalf("expected accepted outcome despite handler failure, got %q", outcome.Status)
	}
	if len(outcome.PartialFailures) != 1 {
		t.Fatalf("expected 1 partial failure, got %v", outcome.PartialFailures)
	}
	if len(healthy.events) != 1 {
		t.Fatalf("expected healthy handler to run, got %d invocations", len(healthy.events))
	}
}

func TestDispatcher_HandlerPanicIsContained(t *testing.T) {
	registry := NewRegistry()
	_ = registry.Register(EventPush, "", HandlerFunc("panicker", func(context.Context, Event, core.InstallationToken) error {
		panic("boom")
	}))
	dispatcher := testDispatcher(registry, &stubTokenSource{})

	body := []byte(`{"ref":"refs/heads/main","installation":{"id":42}}`)
	outcome, err := dispatcher.Dispatch(context.Background(), signedRequest(t, "delivery-1", EventPush, body))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(outcome.PartialFailures) != 1 {
		t.Fatalf("expected panic recorded as partial failure, got %v", outcome.PartialFailures)
	}
}

func TestDispatcher_DuplicateDeliveryIsDeduplicated(t *testing.T) {
	handler := &recordingHandler{name: "issues"}
	registry := NewRegistry()
	_ = registry.Register(EventIssues, "opened", handler)
	dispatcher := testDispatcher(registry, &stubTokenSource{})
	ledger := webhooks.NewInMemoryDeliveryLedger()
	ledger.Now = dispatcher.Now
	dispatcher.Ledger = ledger

	body := []byte(`{"action":"opened","installation":{"id":42}}`)
	req := signedRequest(t, "delivery-1", EventIssues, body)

	if _, err := dispatcher.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	outcome, err := dispatcher.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if outcome.Handled {
		t.Fatalf("expected duplicate delivery to be a no-op")
	}
	if len(handler.events) != 1 {
		t.Fatalf("expected a single handler invocation across redeliveries, got %d", len(handler.events))
	}
}

func TestDispatcher_EventWithoutInstallationDispatchesWithZeroToken(t *testing.T) {
	handler := &recordingHandler{name: "pusher"}
	registry := NewRegistry()
	_ = registry.Register(EventPush, "", handler)
	tokens := &stubTokenSource{}
	dispatcher := testDispatcher(registry, tokens)

	body := []byte(`{"ref":"refs/heads/main"}`)
	if _, err := dispatcher.Dispatch(context.Background(), signedRequest(t, "delivery-1", EventPush, body)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if tokens.calls != 0 {
		t.Fatalf("expected no exchange without installation scope, got %d", tokens.calls)
	}
	if len(handler.events) != 1 || handler.tokens[0].Token != "" {
		t.Fatalf("expected handler run with zero token")
	}
}
