package appjwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-github-app/core"
)

func testKeyPEM(t *testing.T) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	return pem.EncodeToMemory(block), key
}

func TestMinter_MintProducesFixedValidityWindow(t *testing.T) {
	keyPEM, key := testKeyPEM(t)
	minter := NewMinter(core.AppIdentity{AppID: 12345, PrivateKey: keyPEM})
	now := time.Unix(1_700_000_000, 0).UTC()

	assertion, err := minter.Mint(now)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if assertion.Issuer != 12345 {
		t.Fatalf("expected issuer 12345, got %d", assertion.Issuer)
	}
	if got := assertion.ExpiresAt.Sub(assertion.IssuedAt); got != 11*time.Minute {
		t.Fatalf("expected 660s validity window, got %s", got)
	}
	if !assertion.IssuedAt.Equal(now.Add(-time.Minute)) {
		t.Fatalf("expected issued-at backdated 60s, got %s", assertion.IssuedAt)
	}
	if !assertion.ExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("expected expiry 600s after anchor, got %s", assertion.ExpiresAt)
	}

	parsed, err := jwt.ParseWithClaims(assertion.Token, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("parse minted token: %v", err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		t.Fatalf("expected registered claims, got %T", parsed.Claims)
	}
	if claims.Issuer != "12345" {
		t.Fatalf("expected issuer claim %q, got %q", "12345", claims.Issuer)
	}
}

func TestMinter_EachMintIsAnchoredToNow(t *testing.T) {
	keyPEM, _ := testKeyPEM(t)
	minter := NewMinter(core.AppIdentity{AppID: 7, PrivateKey: keyPEM})

	first, err := minter.Mint(time.Unix(1_700_000_000, 0).UTC())
	if err != nil {
		t.Fatalf("first mint: %v", err)
	}
	second, err := minter.Mint(time.Unix(1_700_000_100, 0).UTC())
	if err != nil {
		t.Fatalf("second mint: %v", err)
	}
	if got := second.IssuedAt.Sub(first.IssuedAt); got != 100*time.Second {
		t.Fatalf("expected windows anchored to each call, delta %s", got)
	}
}

func TestMinter_MissingIdentityIsConfigurationError(t *testing.T) {
	keyPEM, _ := testKeyPEM(t)

	cases := []struct {
		name     string
		identity core.AppIdentity
	}{
		{name: "missing app id", identity: core.AppIdentity{PrivateKey: keyPEM}},
		{name: "missing key", identity: core.AppIdentity{AppID: 12345}},
	}
	for _, tc := range cases {
		minter := NewMinter(tc.identity)
		_, err := minter.Mint(time.Unix(1_700_000_000, 0).UTC())
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			t.Fatalf("%s: expected rich error, got %T", tc.name, err)
		}
		if richErr.TextCode != core.AppErrorConfiguration {
			t.Fatalf("%s: expected %s, got %s", tc.name, core.AppErrorConfiguration, richErr.TextCode)
		}
	}
}

func TestMinter_MalformedKeyIsSigningError(t *testing.T) {
	minter := NewMinter(core.AppIdentity{AppID: 12345, PrivateKey: []byte("not a pem key")})

	_, err := minter.Mint(time.Unix(1_700_000_000, 0).UTC())
	if err == nil {
		t.Fatalf("expected error for malformed key")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected rich error, got %T", err)
	}
	if richErr.TextCode != core.AppErrorSigning {
		t.Fatalf("expected %s, got %s", core.AppErrorSigning, richErr.TextCode)
	}
}
