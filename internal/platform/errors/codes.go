// Package errors provides structured error handling for the auth core.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session exchange errors
	CodeSessionKeyInvalid Code = "SESSION_KEY_INVALID"
	CodeSessionNotFound   Code = "SESSION_NOT_FOUND"
	CodeSessionCorrupted  Code = "SESSION_CORRUPTED"

	// Provider errors
	CodeProviderUnknown           Code = "PROVIDER_UNKNOWN"
	CodeProviderCredentialInvalid Code = "PROVIDER_CREDENTIAL_INVALID"
	CodeProviderUnavailable       Code = "PROVIDER_UNAVAILABLE"

	// Account linking errors
	CodeIdentityAlreadyLinked Code = "IDENTITY_ALREADY_LINKED"
	CodeIdentityMismatch      Code = "IDENTITY_MISMATCH"
	CodeUnlinkPrimaryMethod   Code = "UNLINK_PRIMARY_METHOD"

	// User errors
	CodeUserNotFound     Code = "USER_NOT_FOUND"
	CodeUserEmailInvalid Code = "USER_EMAIL_INVALID"

	// Token errors
	CodeAccessTokenInvalid   Code = "ACCESS_TOKEN_INVALID"
	CodeRefreshTokenInvalid  Code = "REFRESH_TOKEN_INVALID"
	CodeActionTokenNotFound  Code = "ACTION_TOKEN_NOT_FOUND"
	CodeVerificationThrottle Code = "VERIFICATION_THROTTLED"

	// Password errors
	CodePasswordInvalid        Code = "PASSWORD_INVALID"
	CodePasswordBreached       Code = "PASSWORD_BREACHED"
	CodeBreachCheckUnavailable Code = "BREACH_CHECK_UNAVAILABLE"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps an error code to the HTTP status surfaced by the API layer.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeSessionKeyInvalid, CodeProviderUnknown, CodeProviderCredentialInvalid, CodeUserEmailInvalid, CodePasswordInvalid, CodePasswordBreached:
		return http.StatusBadRequest
	case CodeAccessTokenInvalid, CodeRefreshTokenInvalid:
		return http.StatusUnauthorized
	case CodeSessionNotFound, CodeUserNotFound, CodeActionTokenNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeSessionCorrupted, CodeIdentityAlreadyLinked, CodeIdentityMismatch, CodeUnlinkPrimaryMethod:
		return http.StatusConflict
	case CodeVerificationThrottle:
		return http.StatusTooManyRequests
	case CodeProviderUnavailable, CodeBreachCheckUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
