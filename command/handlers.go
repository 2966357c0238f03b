package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-github-app/core"
)

type DispatchService interface {
	Dispatch(ctx context.Context, req core.InboundRequest) (core.DispatchOutcome, error)
}

type CredentialService interface {
	ExchangeForInstallation(ctx context.Context, installationID int64) (core.InstallationToken, error)
}

type AssertionService interface {
	MintNow() (core.Assertion, error)
}

type RedeliveryService interface {
	Redeliver(ctx context.Context, deliveryID string) (core.DispatchOutcome, error)
}

type ProcessDeliveryCommand struct {
	service DispatchService
}

func NewProcessDeliveryCommand(service DispatchService) *ProcessDeliveryCommand {
	return &ProcessDeliveryCommand{service: service}
}

func (c *ProcessDeliveryCommand) Execute(ctx context.Context, msg ProcessDeliveryMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dispatch service is required")
	}
	if err := commandWrapValidation(msg.Validate(), "command: invalid delivery message"); err != nil {
		return err
	}
	out, err := c.service.Dispatch(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ExchangeTokenCommand struct {
	service CredentialService
}

func NewExchangeTokenCommand(service CredentialService) *ExchangeTokenCommand {
	return &ExchangeTokenCommand{service: service}
}

func (c *ExchangeTokenCommand) Execute(ctx context.Context, msg ExchangeTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: credential service is required")
	}
	if err := commandWrapValidation(msg.Validate(), "command: invalid exchange message"); err != nil {
		return err
	}
	out, err := c.service.ExchangeForInstallation(ctx, msg.InstallationID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type MintAssertionCommand struct {
	service AssertionService
}

func NewMintAssertionCommand(service AssertionService) *MintAssertionCommand {
	return &MintAssertionCommand{service: service}
}

func (c *MintAssertionCommand) Execute(ctx context.Context, _ MintAssertionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: assertion service is required")
	}
	out, err := c.service.MintNow()
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RedeliverCommand struct {
	service RedeliveryService
}

func NewRedeliverCommand(service RedeliveryService) *RedeliverCommand {
	return &RedeliverCommand{service: service}
}

func (c *RedeliverCommand) Execute(ctx context.Context, msg RedeliverMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: redelivery service is required")
	}
	if err := commandWrapValidation(msg.Validate(), "command: invalid redelivery message"); err != nil {
		return err
	}
	out, err := c.service.Redeliver(ctx, msg.DeliveryID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
