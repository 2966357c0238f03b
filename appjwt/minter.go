// Package appjwt mints the short-lived RS256 assertions that prove App
// identity to the platform.
package appjwt

import (
	"net/http"
	"strconv"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-github-app/core"
)

// The validity window is anchored to the minting time: issued-at is backdated
// one minute to tolerate clock skew between this process and the platform,
// and the assertion expires ten minutes after the anchor.
const (
	assertionBackdate = time.Minute
	assertionLifetime = 10 * time.Minute
)

type Minter struct {
	identity core.AppIdentity
	Now      func() time.Time
}

func NewMinter(identity core.AppIdentity) *Minter {
	return &Minter{
		identity: identity,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Mint produces a fresh assertion anchored to now. Each call is independent;
// nothing is cached or persisted.
func (m *Minter) Mint(now time.Time) (core.Assertion, error) {
	if m == nil {
		return core.Assertion{}, configurationError("appjwt: minter is nil")
	}
	if err := m.identity.Validate(); err != nil {
		return core.Assertion{}, configurationWrap(err, "appjwt: app identity is not configured")
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(m.identity.PrivateKey)
	if err != nil {
		return core.Assertion{}, signingWrap(err, "appjwt: parse private key")
	}

	issuedAt := now.Add(-assertionBackdate).UTC()
	expiresAt := now.Add(assertionLifetime).UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(m.identity.AppID, 10),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return core.Assertion{}, signingWrap(err, "appjwt: sign assertion")
	}

	return core.Assertion{
		Token:     token,
		Issuer:    m.identity.AppID,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

func (m *Minter) MintNow() (core.Assertion, error) {
	if m == nil {
		return core.Assertion{}, configurationError("appjwt: minter is nil")
	}
	now := m.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return m.Mint(now())
}

func configurationError(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.AppErrorConfiguration)
}

func configurationWrap(err error, message string) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.AppErrorConfiguration)
}

func signingWrap(err error, message string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.AppErrorSigning)
}

var _ core.AssertionMinter = (*Minter)(nil)
