package command

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-github-app/core"
)

var (
	_ gocmd.Commander[ProcessDeliveryMessage] = (*ProcessDeliveryCommand)(nil)
	_ gocmd.Commander[ExchangeTokenMessage]   = (*ExchangeTokenCommand)(nil)
	_ gocmd.Commander[MintAssertionMessage]   = (*MintAssertionCommand)(nil)
	_ gocmd.Commander[RedeliverMessage]       = (*RedeliverCommand)(nil)

	_ core.CommandMessage = ProcessDeliveryMessage{}
	_ core.CommandMessage = ExchangeTokenMessage{}
	_ core.CommandMessage = MintAssertionMessage{}
	_ core.CommandMessage = RedeliverMessage{}
)
