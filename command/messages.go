// Package command exposes the app's mutating operations as typed command
// messages so hosts can route them through a message bus or job runner.
package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-github-app/core"
)

const (
	TypeProcessDelivery = "githubapp.command.delivery.process"
	TypeExchangeToken   = "githubapp.command.token.exchange"
	TypeMintAssertion   = "githubapp.command.assertion.mint"
	TypeRedeliver       = "githubapp.command.delivery.redeliver"
)

type ProcessDeliveryMessage struct {
	Request core.InboundRequest
}

func (ProcessDeliveryMessage) Type() string { return TypeProcessDelivery }

func (m ProcessDeliveryMessage) Validate() error {
	if strings.TrimSpace(m.Request.DeliveryID) == "" && len(m.Request.Headers) == 0 {
		return fmt.Errorf("command: delivery id is required")
	}
	if len(m.Request.Body) == 0 {
		return fmt.Errorf("command: delivery body is required")
	}
	return nil
}

type ExchangeTokenMessage struct {
	InstallationID int64
}

func (ExchangeTokenMessage) Type() string { return TypeExchangeToken }

func (m ExchangeTokenMessage) Validate() error {
	if m.InstallationID <= 0 {
		return fmt.Errorf("command: installation id is required")
	}
	return nil
}

type MintAssertionMessage struct{}

func (MintAssertionMessage) Type() string { return TypeMintAssertion }

func (MintAssertionMessage) Validate() error { return nil }

// RedeliverMessage asks the host to re-run a delivery that the ledger parked
// as retry_ready.
type RedeliverMessage struct {
	DeliveryID string
}

func (RedeliverMessage) Type() string { return TypeRedeliver }

func (m RedeliverMessage) Validate() error {
	if strings.TrimSpace(m.DeliveryID) == "" {
		return fmt.Errorf("command: delivery id is required")
	}
	return nil
}
