package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-github-app/core"
	"github.com/goliatone/go-github-app/ratelimit"
)

const exchangeBucket = "token_exchange"

// TokenExchanger trades a freshly minted app assertion for an installation
// scoped access token. Every call mints a new assertion and hits the platform;
// tokens are never cached here.
type TokenExchanger struct {
	Minter  core.AssertionMinter
	Client  core.TransportAdapter
	Invoker *ratelimit.Invoker
	// Tracker is optional. When set, every platform response feeds the stored
	// throttle state for the installation's exchange bucket.
	Tracker *ratelimit.Tracker
	Now     func() time.Time
}

func NewTokenExchanger(minter core.AssertionMinter, client core.TransportAdapter) *TokenExchanger {
	return &TokenExchanger{
		Minter:  minter,
		Client:  client,
		Invoker: ratelimit.NewInvoker(),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type installationTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExchangeForInstallation mints an assertion and exchanges it for an
// installation token. Exhausted rate-limit responses are retried by the
// invoker; authentication and exchange failures surface distinct text codes
// so callers can tell a credential problem from a platform one.
func (e *TokenExchanger) ExchangeForInstallation(ctx context.Context, installationID int64) (core.InstallationToken, error) {
	if e == nil || e.Minter == nil || e.Client == nil {
		return core.InstallationToken{}, exchangeError(
			"github: token exchanger requires a minter and a transport",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			core.AppErrorInternal,
			nil,
		)
	}
	if installationID <= 0 {
		return core.InstallationToken{}, exchangeError(
			"github: installation id is required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			core.AppErrorBadInput,
			nil,
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	assertion, err := e.Minter.Mint(e.now())
	if err != nil {
		return core.InstallationToken{}, exchangeWrapError(
			err,
			goerrors.CategoryAuth,
			"github: mint app assertion",
			http.StatusUnauthorized,
			core.AppErrorAuthenticationFailed,
			map[string]any{"installation_id": installationID},
		)
	}

	return ratelimit.Do(ctx, e.Invoker, func(ctx context.Context) (core.InstallationToken, error) {
		return e.exchangeOnce(ctx, installationID, assertion)
	})
}

func (e *TokenExchanger) exchangeOnce(ctx context.Context, installationID int64, assertion core.Assertion) (core.InstallationToken, error) {
	res, err := e.Client.Do(ctx, core.TransportRequest{
		Method: http.MethodPost,
		URL:    InstallationPath(installationID),
		Headers: map[string]string{
			"Authorization": "Bearer " + assertion.Token,
		},
	})
	if err != nil {
		return core.InstallationToken{}, exchangeWrapError(
			err,
			goerrors.CategoryExternal,
			"github: execute token exchange",
			http.StatusBadGateway,
			core.AppErrorExchangeFailed,
			map[string]any{"installation_id": installationID},
		)
	}

	e.observe(ctx, installationID, res)

	if signal, ok := ratelimit.SignalFromResponse(res.StatusCode, res.Headers); ok {
		return core.InstallationToken{}, signal
	}
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return core.InstallationToken{}, exchangeError(
			fmt.Sprintf("github: platform rejected app credentials with status %d", res.StatusCode),
			goerrors.CategoryAuth,
			http.StatusUnauthorized,
			core.AppErrorAuthenticationFailed,
			map[string]any{"installation_id": installationID, "status_code": res.StatusCode},
		)
	}
	if res.StatusCode != http.StatusCreated {
		return core.InstallationToken{}, exchangeError(
			fmt.Sprintf("github: token exchange failed with status %d", res.StatusCode),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			core.AppErrorExchangeFailed,
			map[string]any{
				"installation_id": installationID,
				"status_code":     res.StatusCode,
				"body_snippet":    bodySnippet(res.Body),
			},
		)
	}

	var payload installationTokenResponse
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return core.InstallationToken{}, exchangeWrapError(
			err,
			goerrors.CategoryExternal,
			"github: decode token exchange response",
			http.StatusBadGateway,
			core.AppErrorExchangeFailed,
			map[string]any{"installation_id": installationID},
		)
	}
	if strings.TrimSpace(payload.Token) == "" {
		return core.InstallationToken{}, exchangeError(
			"github: token exchange response is missing a token",
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			core.AppErrorExchangeFailed,
			map[string]any{"installation_id": installationID},
		)
	}

	return core.InstallationToken{
		InstallationID: installationID,
		Token:          payload.Token,
		ExpiresAt:      payload.ExpiresAt.UTC(),
	}, nil
}

func (e *TokenExchanger) observe(ctx context.Context, installationID int64, res core.TransportResponse) {
	if e == nil || e.Tracker == nil {
		return
	}
	key := core.RateLimitKey{InstallationID: installationID, Bucket: exchangeBucket}
	// State tracking is advisory; a store failure must not fail the exchange.
	_ = e.Tracker.Observe(ctx, key, res.StatusCode, res.Headers)
}

func (e *TokenExchanger) now() time.Time {
	if e != nil && e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func bodySnippet(body []byte) string {
	const snippetLimit = 256
	text := strings.TrimSpace(string(body))
	if len(text) > snippetLimit {
		return text[:snippetLimit]
	}
	return text
}

func exchangeError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func exchangeWrapError(source error, category goerrors.Category, message string, code int, textCode string, metadata map[string]any) error {
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

var _ core.TokenExchanger = (*TokenExchanger)(nil)

// InstallationPath returns the canonical exchange endpoint for an
// installation, useful for hosts that log or stub outbound calls.
func InstallationPath(installationID int64) string {
	return "/app/installations/" + strconv.FormatInt(installationID, 10) + "/access_tokens"
}
