package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	AppErrorConfiguration        = "APP_CONFIGURATION_ERROR"
	AppErrorSigning              = "APP_SIGNING_ERROR"
	AppErrorAuthenticationFailed = "APP_AUTHENTICATION_FAILED"
	AppErrorExchangeFailed       = "APP_EXCHANGE_FAILED"
	AppErrorRateLimited          = "APP_RATE_LIMITED"
	AppErrorVerificationFailed   = "APP_VERIFICATION_FAILED"
	AppErrorHandlerFailed        = "APP_HANDLER_FAILED"
	AppErrorBadInput             = "APP_BAD_INPUT"
	AppErrorInternal             = "APP_INTERNAL_ERROR"
)

// AppErrorMapper normalizes any error into the library's envelope: every
// surfaced error carries an HTTP code and a stable text code.
func AppErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureAppErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "throttl"):
		return newAppError(err.Error(), goerrors.CategoryRateLimit, AppErrorRateLimited)
	case strings.Contains(msg, "signature"):
		return newAppError(err.Error(), goerrors.CategoryAuth, AppErrorVerificationFailed)
	case strings.Contains(msg, "private key"), strings.Contains(msg, "app id"):
		return newAppError(err.Error(), goerrors.CategoryBadInput, AppErrorConfiguration)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newAppError(err.Error(), goerrors.CategoryBadInput, AppErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureAppErrorEnvelope(mapped)
}

func newAppError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureAppErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureAppErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = appHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultAppTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultAppTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return AppErrorBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return AppErrorAuthenticationFailed
	case goerrors.CategoryRateLimit:
		return AppErrorRateLimited
	case goerrors.CategoryExternal:
		return AppErrorExchangeFailed
	case goerrors.CategoryOperation:
		return AppErrorHandlerFailed
	default:
		return AppErrorInternal
	}
}

func appHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
