package dispatch

import (
	"encoding/json"
	"strings"

	"github.com/goliatone/go-github-app/core"
)

const (
	EventTypeHeader = "X-GitHub-Event"

	EventIssues       = "issues"
	EventPullRequest  = "pull_request"
	EventPush         = "push"
	EventInstallation = "installation"
)

// Event is the parsed view of a delivery payload: enough structure to route
// on and to hand to handlers, with the raw body preserved for anything the
// projection does not cover.
type Event struct {
	Type           string
	Action         string
	DeliveryID     string
	InstallationID int64
	IssueNumber    int
	PullNumber     int
	Repository     string
	Sender         string
	Ref            string
	Body           []byte
}

// Key returns the routing key for the event: "type.action" when the payload
// carries an action, the bare type otherwise.
func (e Event) Key() string {
	if e.Action == "" {
		return e.Type
	}
	return e.Type + "." + e.Action
}

type eventEnvelope struct {
	Action       string `json:"action"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
	Issue struct {
		Number int `json:"number"`
	} `json:"issue"`
	PullRequest struct {
		Number int `json:"number"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
	Ref string `json:"ref"`
}

// ParseEvent projects the routing fields out of a delivery. The event type
// comes from the X-GitHub-Event header, falling back to the explicit field.
// An empty or unparseable body is a bad-input error; unknown event types are
// not, routing decides what to do with them.
func ParseEvent(req core.InboundRequest) (Event, error) {
	eventType := strings.TrimSpace(strings.ToLower(headerValue(req.Headers, EventTypeHeader)))
	if eventType == "" {
		eventType = strings.TrimSpace(strings.ToLower(req.EventType))
	}
	if eventType == "" {
		return Event{}, dispatchBadInput("dispatch: event type is required", map[string]any{
			"delivery_id": req.DeliveryID,
		})
	}
	if len(req.Body) == 0 {
		return Event{}, dispatchBadInput("dispatch: event payload is required", map[string]any{
			"delivery_id": req.DeliveryID,
			"event_type":  eventType,
		})
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(req.Body, &envelope); err != nil {
		return Event{}, dispatchWrapBadInput(err, "dispatch: decode event payload", map[string]any{
			"delivery_id": req.DeliveryID,
			"event_type":  eventType,
		})
	}

	return Event{
		Type:           eventType,
		Action:         strings.TrimSpace(strings.ToLower(envelope.Action)),
		DeliveryID:     strings.TrimSpace(req.DeliveryID),
		InstallationID: envelope.Installation.ID,
		IssueNumber:    envelope.Issue.Number,
		PullNumber:     envelope.PullRequest.Number,
		Repository:     strings.TrimSpace(envelope.Repository.FullName),
		Sender:         strings.TrimSpace(envelope.Sender.Login),
		Ref:            strings.TrimSpace(envelope.Ref),
		Body:           req.Body,
	}, nil
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
