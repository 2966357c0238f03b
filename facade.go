// Package githubapp assembles the credential and delivery subsystem: RS256
// assertion minting, rate-limit aware installation token exchange, webhook
// signature verification and event dispatch behind one facade.
package githubapp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-github-app/appjwt"
	"github.com/goliatone/go-github-app/core"
	"github.com/goliatone/go-github-app/dispatch"
	"github.com/goliatone/go-github-app/github"
	"github.com/goliatone/go-github-app/ratelimit"
	"github.com/goliatone/go-github-app/webhooks"
)

// App is the assembled subsystem. Hosts register handlers with On and feed
// raw deliveries into HandleDelivery; everything in between is wired here.
type App struct {
	config     core.Config
	minter     *appjwt.Minter
	exchanger  *github.TokenExchanger
	tokens     core.TokenSource
	verifier   *webhooks.SignatureVerifier
	registry   *dispatch.Registry
	dispatcher *dispatch.Dispatcher
	observer   core.Observer
	logger     glog.Logger
}

type Option func(*appOptions)

type appOptions struct {
	logger         glog.Logger
	loggerProvider glog.LoggerProvider
	metrics        core.MetricsRecorder
	httpClient     github.HTTPDoer
	transport      core.TransportAdapter
	ledger         webhooks.DeliveryLedger
	tokens         core.TokenSource
	stateStore     ratelimit.StateStore
	clock          func() time.Time
	overrides      *core.Config
}

func WithLogger(logger glog.Logger) Option {
	return func(o *appOptions) {
		o.logger = logger
	}
}

func WithLoggerProvider(provider glog.LoggerProvider) Option {
	return func(o *appOptions) {
		o.loggerProvider = provider
	}
}

func WithMetricsRecorder(metrics core.MetricsRecorder) Option {
	return func(o *appOptions) {
		o.metrics = metrics
	}
}

// WithHTTPClient swaps the underlying HTTP doer while keeping the default
// REST transport wiring.
func WithHTTPClient(client github.HTTPDoer) Option {
	return func(o *appOptions) {
		o.httpClient = client
	}
}

// WithTransport replaces the platform transport entirely. Takes precedence
// over WithHTTPClient.
func WithTransport(transport core.TransportAdapter) Option {
	return func(o *appOptions) {
		o.transport = transport
	}
}

// WithLedger installs a delivery ledger, typically the SQL-backed store.
// Without one an in-memory ledger is used, which deduplicates per process
// only.
func WithLedger(ledger webhooks.DeliveryLedger) Option {
	return func(o *appOptions) {
		o.ledger = ledger
	}
}

// WithTokenSource replaces the default exchange-per-dispatch token source,
// for hosts that layer caching on top.
func WithTokenSource(tokens core.TokenSource) Option {
	return func(o *appOptions) {
		o.tokens = tokens
	}
}

// WithRateLimitStateStore persists observed throttle state so replicas can
// decline work during a known throttle window.
func WithRateLimitStateStore(store ratelimit.StateStore) Option {
	return func(o *appOptions) {
		o.stateStore = store
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *appOptions) {
		o.clock = now
	}
}

// WithConfigOverrides layers runtime settings on top of the supplied or
// loaded configuration. Precedence is defaults < config < overrides; only
// non-zero override fields apply.
func WithConfigOverrides(cfg core.Config) Option {
	return func(o *appOptions) {
		o.overrides = &cfg
	}
}

// New assembles an App from a resolved configuration. Config validation runs
// here so a misconfigured identity fails at startup, not on first delivery.
func New(cfg core.Config, options ...Option) (*App, error) {
	opt := appOptions{}
	for _, apply := range options {
		if apply == nil {
			continue
		}
		apply(&opt)
	}

	if opt.overrides != nil {
		resolved, err := core.GoOptionsResolver{}.Resolve(core.DefaultConfig(), cfg, *opt.overrides)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "githubapp: resolve configuration layers").
				WithCode(http.StatusInternalServerError).
				WithTextCode(core.AppErrorConfiguration)
		}
		cfg = resolved
	}
	if err := cfg.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "githubapp: invalid configuration").
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.AppErrorConfiguration)
	}

	_, logger := glog.Resolve("githubapp", opt.loggerProvider, opt.logger)
	observer := core.Observer{Logger: logger, Metrics: opt.metrics}

	clock := opt.clock
	if clock == nil {
		clock = func() time.Time {
			return time.Now().UTC()
		}
	}

	minter := appjwt.NewMinter(cfg.Identity())
	minter.Now = clock

	transport := opt.transport
	if transport == nil {
		client := github.NewClient(opt.httpClient)
		if cfg.BaseURL != "" {
			client.BaseURL = cfg.BaseURL
		}
		transport = client
	}

	invoker := ratelimit.NewInvoker()
	invoker.Now = clock
	if cfg.Retry.MaxRetries >= 0 {
		invoker.MaxRetries = cfg.Retry.MaxRetries
	}
	if cfg.Retry.MaxWaitSeconds > 0 {
		invoker.MaxWait = time.Duration(cfg.Retry.MaxWaitSeconds) * time.Second
	}

	exchanger := github.NewTokenExchanger(minter, transport)
	exchanger.Invoker = invoker
	exchanger.Now = clock
	if opt.stateStore != nil {
		tracker := ratelimit.NewTracker(opt.stateStore)
		tracker.Now = clock
		exchanger.Tracker = tracker
	}

	tokens := opt.tokens
	if tokens == nil {
		tokens = github.NewExchangeTokenSource(exchanger)
	}

	var verifier *webhooks.SignatureVerifier
	if cfg.WebhookSecret != "" {
		verifier = webhooks.NewSignatureVerifier([]byte(cfg.WebhookSecret))
	}

	ledger := opt.ledger
	if ledger == nil {
		memoryLedger := webhooks.NewInMemoryDeliveryLedger()
		memoryLedger.Now = clock
		if cfg.Ledger.MaxAttempts > 0 {
			memoryLedger.MaxAttempts = cfg.Ledger.MaxAttempts
		}
		ledger = memoryLedger
	}

	registry := dispatch.NewRegistry()
	dispatcher := dispatch.NewDispatcher(verifier, registry, tokens)
	dispatcher.Ledger = ledger
	dispatcher.Observer = observer
	dispatcher.Now = clock
	if cfg.Ledger.LeaseSeconds > 0 {
		dispatcher.ClaimLease = time.Duration(cfg.Ledger.LeaseSeconds) * time.Second
	}

	return &App{
		config:     cfg,
		minter:     minter,
		exchanger:  exchanger,
		tokens:     tokens,
		verifier:   verifier,
		registry:   registry,
		dispatcher: dispatcher,
		observer:   observer,
		logger:     logger,
	}, nil
}

// NewFromProvider loads configuration through a provider, layered over the
// library defaults, then assembles the App.
func NewFromProvider(ctx context.Context, provider core.ConfigProvider, options ...Option) (*App, error) {
	if provider == nil {
		return nil, fmt.Errorf("githubapp: config provider is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := provider.Load(ctx, core.DefaultConfig())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "githubapp: load configuration").
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.AppErrorConfiguration)
	}
	return New(cfg, options...)
}

// On registers a handler for an event type, optionally narrowed to one
// action. An empty action subscribes to every action of the type.
func (a *App) On(eventType, action string, handler dispatch.Handler) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("githubapp: app is not initialized")
	}
	return a.registry.Register(eventType, action, handler)
}

// OnFunc is On for plain functions.
func (a *App) OnFunc(
	eventType, action, name string,
	fn func(ctx context.Context, event dispatch.Event, token core.InstallationToken) error,
) error {
	return a.On(eventType, action, dispatch.HandlerFunc(name, fn))
}

// HandleDelivery runs one delivery through the dispatcher and folds the
// outcome into an HTTP-shaped result. Handler errors never fail the result;
// they ride along as partial failure metadata.
func (a *App) HandleDelivery(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if a == nil || a.dispatcher == nil {
		return core.InboundResult{StatusCode: http.StatusInternalServerError},
			fmt.Errorf("githubapp: app is not initialized")
	}
	outcome, err := a.dispatcher.Dispatch(ctx, req)
	if err != nil {
		// Normalize so hosts always see a coded envelope, whatever the source.
		err = core.AppErrorMapper(err)
	}
	result := core.InboundResult{
		Accepted:   !outcome.Rejected() && !outcome.Failed(),
		StatusCode: statusFor(outcome, err),
		Metadata: map[string]any{
			"status":  outcome.Status,
			"handled": outcome.Handled,
		},
	}
	if outcome.Reason != "" {
		result.Metadata["reason"] = outcome.Reason
	}
	if len(outcome.PartialFailures) > 0 {
		result.Metadata["partial_failures"] = outcome.PartialFailures
	}
	return result, err
}

// Dispatch exposes the raw dispatch outcome for hosts that shape their own
// responses.
func (a *App) Dispatch(ctx context.Context, req core.InboundRequest) (core.DispatchOutcome, error) {
	if a == nil || a.dispatcher == nil {
		return core.DispatchOutcome{}, fmt.Errorf("githubapp: app is not initialized")
	}
	return a.dispatcher.Dispatch(ctx, req)
}

// MintAssertion mints a fresh App assertion anchored to the current clock.
func (a *App) MintAssertion() (core.Assertion, error) {
	if a == nil || a.minter == nil {
		return core.Assertion{}, fmt.Errorf("githubapp: app is not initialized")
	}
	return a.minter.MintNow()
}

// ExchangeToken trades a fresh assertion for an installation token.
func (a *App) ExchangeToken(ctx context.Context, installationID int64) (core.InstallationToken, error) {
	if a == nil || a.exchanger == nil {
		return core.InstallationToken{}, fmt.Errorf("githubapp: app is not initialized")
	}
	return a.exchanger.ExchangeForInstallation(ctx, installationID)
}

func (a *App) Config() core.Config {
	if a == nil {
		return core.Config{}
	}
	return a.config
}

func (a *App) Tokens() core.TokenSource {
	if a == nil {
		return nil
	}
	return a.tokens
}

func (a *App) Registry() *dispatch.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *App) Dispatcher() *dispatch.Dispatcher {
	if a == nil {
		return nil
	}
	return a.dispatcher
}

// statusFor maps a dispatch outcome to the HTTP code the boundary returns.
// A coded error wins over the coarse outcome buckets.
func statusFor(outcome core.DispatchOutcome, err error) int {
	if err != nil {
		if mapped := core.AppErrorMapper(err); mapped != nil && mapped.Code > 0 {
			return mapped.Code
		}
	}
	switch {
	case outcome.Rejected():
		return http.StatusUnauthorized
	case outcome.Failed():
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}
