package core

import (
	stderrors "errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestAppErrorMapper_AssignsStableCodes(t *testing.T) {
	mapped := AppErrorMapper(stderrors.New("github: rate limit exhausted, resets at 2026-01-01T00:00:00Z"))
	if mapped.TextCode != AppErrorRateLimited {
		t.Fatalf("expected rate limited text code, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", mapped.Code)
	}

	mapped = AppErrorMapper(stderrors.New("webhooks: signature mismatch"))
	if mapped.TextCode != AppErrorVerificationFailed {
		t.Fatalf("expected verification text code, got %q", mapped.TextCode)
	}
	if mapped.Category != goerrors.CategoryAuth {
		t.Fatalf("expected auth category, got %q", mapped.Category)
	}

	mapped = AppErrorMapper(stderrors.New("core: private key is required"))
	if mapped.TextCode != AppErrorConfiguration {
		t.Fatalf("expected configuration text code, got %q", mapped.TextCode)
	}

	mapped = AppErrorMapper(stderrors.New("command: installation id is required"))
	if mapped.TextCode != AppErrorBadInput {
		t.Fatalf("expected bad input text code, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", mapped.Code)
	}
}

func TestAppErrorMapper_PreservesRichErrors(t *testing.T) {
	source := goerrors.New("github: token exchange failed with status 502", goerrors.CategoryExternal).
		WithCode(http.StatusBadGateway).
		WithTextCode(AppErrorExchangeFailed)

	mapped := AppErrorMapper(source)
	if mapped.Code != http.StatusBadGateway {
		t.Fatalf("expected explicit code preserved, got %d", mapped.Code)
	}
	if mapped.TextCode != AppErrorExchangeFailed {
		t.Fatalf("expected explicit text code preserved, got %q", mapped.TextCode)
	}
}

func TestAppErrorMapper_DefaultsEnvelopeByCategory(t *testing.T) {
	cases := []struct {
		name     string
		category goerrors.Category
		code     int
		textCode string
	}{
		{name: "auth", category: goerrors.CategoryAuth, code: http.StatusUnauthorized, textCode: AppErrorAuthenticationFailed},
		{name: "authz", category: goerrors.CategoryAuthz, code: http.StatusForbidden, textCode: AppErrorAuthenticationFailed},
		{name: "rate limit", category: goerrors.CategoryRateLimit, code: http.StatusTooManyRequests, textCode: AppErrorRateLimited},
		{name: "external", category: goerrors.CategoryExternal, code: http.StatusBadGateway, textCode: AppErrorExchangeFailed},
		{name: "operation", category: goerrors.CategoryOperation, code: http.StatusInternalServerError, textCode: AppErrorHandlerFailed},
		{name: "validation", category: goerrors.CategoryValidation, code: http.StatusBadRequest, textCode: AppErrorBadInput},
	}
	for _, tc := range cases {
		mapped := AppErrorMapper(goerrors.New("something went wrong", tc.category))
		if mapped.Code != tc.code {
			t.Fatalf("%s: expected code %d, got %d", tc.name, tc.code, mapped.Code)
		}
		if mapped.TextCode != tc.textCode {
			t.Fatalf("%s: expected text code %q, got %q", tc.name, tc.textCode, mapped.TextCode)
		}
	}
}

func TestAppErrorMapper_InternalMessageFallback(t *testing.T) {
	mapped := AppErrorMapper(goerrors.New("", goerrors.CategoryInternal))
	if mapped.Message == "" {
		t.Fatalf("expected a fallback message for blank internal errors")
	}
	if mapped.TextCode != AppErrorInternal {
		t.Fatalf("expected internal text code, got %q", mapped.TextCode)
	}
}

func TestAppErrorMapper_NilStaysNil(t *testing.T) {
	if mapped := AppErrorMapper(nil); mapped != nil {
		t.Fatalf("expected nil mapping for nil error, got %v", mapped)
	}
}
