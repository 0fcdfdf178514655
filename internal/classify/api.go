package classify

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// APIKind is the closed set of mail/identity client failure types.
type APIKind string

const (
	KindAuthInvalidGrant  APIKind = "AUTH_INVALID_GRANT"
	KindAuthInvalidClient APIKind = "AUTH_INVALID_CLIENT"
	KindAPIRateLimited    APIKind = "API_RATE_LIMITED"
	KindAPINetworkError   APIKind = "API_NETWORK_ERROR"
)

// APIError is the typed failure the mail client returns.
type APIError struct {
	Kind       APIKind
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// APIErrorFromOAuth maps an OAuth error code and HTTP status to an APIError.
// code is the "error" field of an OAuth error response, e.g. "invalid_grant".
func APIErrorFromOAuth(code string, httpStatus int) *APIError {
	code = strings.ToLower(strings.TrimSpace(code))
	switch {
	case code == "invalid_grant":
		return &APIError{Kind: KindAuthInvalidGrant, Message: "refresh token revoked or expired"}
	case code == "invalid_client", code == "unauthorized_client":
		return &APIError{Kind: KindAuthInvalidClient, Message: "client credentials rejected"}
	case httpStatus == http.StatusTooManyRequests, code == "rate_limit_exceeded", code == "user_rate_limit_exceeded":
		return &APIError{Kind: KindAPIRateLimited, Message: "rate limited"}
	}
	msg := code
	if msg == "" {
		msg = fmt.Sprintf("http status %d", httpStatus)
	}
	return &APIError{Kind: KindAPINetworkError, Message: msg}
}

// APIClassification is the disposition of an API failure.
type APIClassification struct {
	Type       APIKind
	Retryable  bool
	RetryAfter time.Duration
}

// ClassifyAPIError is total. Credential failures are not retryable; rate
// limiting and network failures are. Anything unrecognized is treated as a
// network error and retried.
func ClassifyAPIError(err error) APIClassification {
	var ae *APIError
	if errors.As(err, &ae) {
		switch ae.Kind {
		case KindAuthInvalidGrant, KindAuthInvalidClient:
			return APIClassification{Type: ae.Kind}
		case KindAPIRateLimited:
			return APIClassification{Type: ae.Kind, Retryable: true, RetryAfter: ae.RetryAfter}
		}
		return APIClassification{Type: KindAPINetworkError, Retryable: true, RetryAfter: ae.RetryAfter}
	}
	return APIClassification{Type: KindAPINetworkError, Retryable: true}
}

// IsAuthKind reports whether k is a credential failure.
func IsAuthKind(k APIKind) bool {
	return k == KindAuthInvalidGrant || k == KindAuthInvalidClient
}
