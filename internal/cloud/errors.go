// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the client for OpenAI-compatible hosted
// completion APIs.
package cloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error variables for common API failures.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("cloud API key not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the account has insufficient credits.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// StatusError represents a non-success HTTP response from the API.
type StatusError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("cloud API error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("cloud API error (HTTP %d): %s", e.Status, e.Message)
}

// apiErrorResponse is the error envelope the API returns.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// errorFromResponse maps a non-200 status and body onto the error
// taxonomy. Well-known statuses come back wrapping their sentinel so
// callers can branch with errors.Is.
func errorFromResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		statusErr := &StatusError{
			Code:    apiErr.Error.Code,
			Message: apiErr.Error.Message,
			Status:  statusCode,
		}
		if sentinel := sentinelFor(statusCode); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, statusErr.Message)
		}
		return statusErr
	}

	// Unparseable body: sentinel alone, or a bare status error.
	if sentinel := sentinelFor(statusCode); sentinel != nil {
		return sentinel
	}
	return &StatusError{
		Message: string(body),
		Status:  statusCode,
	}
}

func sentinelFor(statusCode int) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return ErrAuthFailed
	case http.StatusPaymentRequired:
		return ErrInsufficientCredits
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return nil
	}
}
