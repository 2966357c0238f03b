package webhooks

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-github-app/core"
)

func webhookError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func webhookWrapError(source error, category goerrors.Category, message string, code int, textCode string, metadata map[string]any) error {
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func verificationError(message string, metadata map[string]any) error {
	return webhookError(message, goerrors.CategoryAuth, http.StatusUnauthorized, core.AppErrorVerificationFailed, metadata)
}

func verificationWrapError(source error, message string, metadata map[string]any) error {
	return webhookWrapError(source, goerrors.CategoryAuth, message, http.StatusUnauthorized, core.AppErrorVerificationFailed, metadata)
}

func webhookBadInput(message string, metadata map[string]any) error {
	return webhookError(message, goerrors.CategoryBadInput, http.StatusBadRequest, core.AppErrorBadInput, metadata)
}

func webhookInternal(message string, metadata map[string]any) error {
	return webhookError(message, goerrors.CategoryInternal, http.StatusInternalServerError, core.AppErrorInternal, metadata)
}
