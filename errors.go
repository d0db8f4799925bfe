package auth

import (
	"net/http"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	TextCodeUnknownAccount         = "UNKNOWN_ACCOUNT"
	TextCodeTooManyAttempts        = "TOO_MANY_ATTEMPTS"
	TextCodeAccountAlreadyExists   = "ACCOUNT_ALREADY_EXISTS"
	TextCodeWeakPassword           = "WEAK_PASSWORD"
	TextCodeInvalidEmail           = "INVALID_EMAIL"
	TextCodeProfileNotFound        = "PROFILE_NOT_FOUND"
	TextCodeProfileInactive        = "PROFILE_INACTIVE"
	TextCodeProvisioningPartial    = "PROVISIONING_PARTIAL_FAILURE"
	TextCodeInvalidRole            = "INVALID_ROLE"
	TextCodeInvalidDisplayName     = "INVALID_DISPLAY_NAME"
	TextCodeInvalidPersistenceMode = "INVALID_PERSISTENCE_MODE"
	TextCodeDocumentNotFound       = "DOCUMENT_NOT_FOUND"
	TextCodeInvalidToken           = "INVALID_TOKEN"
	TextCodeTokenExpired           = "TOKEN_EXPIRED"
	TextCodeForbidden              = "FORBIDDEN"
	TextCodeSessionClosed          = "SESSION_CLOSED"
	TextCodeSessionStarted         = "SESSION_ALREADY_STARTED"
	TextCodeRegistrationClosed     = "REGISTRATION_CLOSED"
)

// ErrInvalidCredentials is returned when the password does not match
var ErrInvalidCredentials = errors.New("the credentials provided are invalid", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrUnknownAccount is returned when no identity matches the email
var ErrUnknownAccount = errors.New("no account matches the credentials", errors.CategoryAuth).
	WithTextCode(TextCodeUnknownAccount).
	WithCode(errors.CodeUnauthorized)

// ErrTooManyAttempts is returned while an account or client is cooling down
var ErrTooManyAttempts = errors.New("too many failed login attempts", errors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(http.StatusTooManyRequests)

// ErrAccountAlreadyExists is returned when the email is taken
var ErrAccountAlreadyExists = errors.New("an account with this email already exists", errors.CategoryConflict).
	WithTextCode(TextCodeAccountAlreadyExists).
	WithCode(errors.CodeConflict)

// ErrWeakPassword is returned when the password is too short
var ErrWeakPassword = errors.New("password is too weak", errors.CategoryValidation).
	WithTextCode(TextCodeWeakPassword).
	WithCode(errors.CodeBadRequest)

// ErrInvalidEmail is returned for malformed email addresses
var ErrInvalidEmail = errors.New("invalid email address", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidEmail).
	WithCode(errors.CodeBadRequest)

// ErrProfileNotFound is returned when an identity has no usable profile document
var ErrProfileNotFound = errors.New("user profile not found", errors.CategoryNotFound).
	WithTextCode(TextCodeProfileNotFound).
	WithCode(errors.CodeNotFound)

// ErrProfileInactive is returned when the profile has been deactivated
var ErrProfileInactive = errors.New("user profile is inactive", errors.CategoryAuth).
	WithTextCode(TextCodeProfileInactive).
	WithCode(errors.CodeForbidden)

// ErrProvisioningPartialFailure is returned when the identity was created but
// the profile write failed
var ErrProvisioningPartialFailure = errors.New("identity created but profile could not be stored", errors.CategoryOperation).
	WithTextCode(TextCodeProvisioningPartial).
	WithCode(errors.CodeInternal)

// ErrInvalidRole is returned for roles outside the closed set
var ErrInvalidRole = errors.New("user has an unknown or invalid role", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidRole).
	WithCode(errors.CodeBadRequest)

// ErrInvalidDisplayName is returned for empty or oversized display names
var ErrInvalidDisplayName = errors.New("display name is required", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidDisplayName).
	WithCode(errors.CodeBadRequest)

// ErrInvalidPersistenceMode is returned for unknown persistence modes
var ErrInvalidPersistenceMode = errors.New("invalid persistence mode", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidPersistenceMode).
	WithCode(errors.CodeBadRequest)

// ErrDocumentNotFound is returned by document stores for absent documents
var ErrDocumentNotFound = errors.New("document not found", errors.CategoryNotFound).
	WithTextCode(TextCodeDocumentNotFound).
	WithCode(errors.CodeNotFound)

// ErrInvalidToken is returned when an identity token fails validation
var ErrInvalidToken = errors.New("invalid identity token", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is returned for expired identity tokens
var ErrTokenExpired = errors.New("identity token expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrForbidden is returned when the acting user may not perform an operation
var ErrForbidden = errors.New("operation not allowed for this user", errors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(errors.CodeForbidden)

// ErrSessionClosed is returned when using a torn down session manager
var ErrSessionClosed = errors.New("session manager is closed", errors.CategoryOperation).
	WithTextCode(TextCodeSessionClosed).
	WithCode(errors.CodeInternal)

// ErrSessionStarted is returned when starting a session manager twice
var ErrSessionStarted = errors.New("session manager already started", errors.CategoryOperation).
	WithTextCode(TextCodeSessionStarted).
	WithCode(errors.CodeInternal)

// ErrRegistrationClosed is returned when self registration is not available
var ErrRegistrationClosed = errors.New("registration is closed", errors.CategoryAuthz).
	WithTextCode(TextCodeRegistrationClosed).
	WithCode(errors.CodeForbidden)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryValidation).
	WithTextCode(TextCodeWeakPassword).
	WithCode(errors.CodeBadRequest)

// withMetadata returns a copy of base carrying metadata. The copy keeps base
// as its source so HasTextCode and errors.Is still match.
func withMetadata(base *errors.Error, metadata map[string]any) error {
	clone := base.Clone()
	if clone == nil {
		return base
	}
	clone.Source = base
	return clone.WithMetadata(metadata)
}

// TextCode returns the first text code found in the error chain
func TextCode(err error) string {
	for err != nil {
		var richErr *errors.Error
		if !errors.As(err, &richErr) {
			return ""
		}

		if richErr.TextCode != "" {
			return richErr.TextCode
		}

		err = richErr.Source
	}
	return ""
}

// HasTextCode checks the error chain for the given text code
func HasTextCode(err error, code string) bool {
	return err != nil && TextCode(err) == code
}

// IsProfileMissing reports errors that mean "no usable profile"
func IsProfileMissing(err error) bool {
	switch TextCode(err) {
	case TextCodeProfileNotFound, TextCodeProfileInactive:
		return true
	default:
		return false
	}
}

// StatusCode returns the HTTP status attached to a rich error, or 500
func StatusCode(err error) int {
	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr.Code > 0 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}
