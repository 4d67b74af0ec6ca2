package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the root of every request-shape failure. It never
	// reaches the rendering stage.
	ErrValidation = errors.New("invalid request")
	// ErrMissingMarkdown signals an absent, empty or non-string markdown field.
	ErrMissingMarkdown = fmt.Errorf("%w: invalid or missing markdown content", ErrValidation)
	// ErrMarkdownTooLarge signals markdown above the configured byte ceiling.
	ErrMarkdownTooLarge = fmt.Errorf("%w: markdown content too large", ErrValidation)

	// ErrRender is matched by every rendering backend failure (launch,
	// content load, export).
	ErrRender = errors.New("render failed")
	// ErrTimeout signals that the request exceeded its wall-clock budget.
	ErrTimeout = errors.New("request timed out")
	// ErrQuota signals that the caller exhausted its request quota.
	ErrQuota = errors.New("too many requests")
	// ErrUnsupportedMethod signals a request with a method other than POST/OPTIONS.
	ErrUnsupportedMethod = errors.New("method not allowed")

	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrTokenStoreNotReady signals that the token store has not been loaded yet.
	// This can happen during startup when the DB isn't ready.
	ErrTokenStoreNotReady = errors.New("token store not ready")
)
