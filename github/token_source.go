package github

import (
	"context"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-github-app/core"
)

// ExchangeTokenSource is the default token source: it performs a full
// exchange on every request. Hosts that want token reuse wrap this with
// their own caching layer.
type ExchangeTokenSource struct {
	Exchanger core.TokenExchanger
}

func NewExchangeTokenSource(exchanger core.TokenExchanger) *ExchangeTokenSource {
	return &ExchangeTokenSource{Exchanger: exchanger}
}

func (s *ExchangeTokenSource) Token(ctx context.Context, installationID int64) (core.InstallationToken, error) {
	if s == nil || s.Exchanger == nil {
		return core.InstallationToken{}, goerrors.New(
			"github: token source requires an exchanger",
			goerrors.CategoryInternal,
		).WithCode(http.StatusInternalServerError).WithTextCode(core.AppErrorInternal)
	}
	return s.Exchanger.ExchangeForInstallation(ctx, installationID)
}

var _ core.TokenSource = (*ExchangeTokenSource)(nil)
