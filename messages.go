package auth

const (
	MessageInvalidCredentials = "Invalid email or password."
	MessageTooManyAttempts    = "Too many failed attempts. Try again later."
	MessageSignInFailed       = "Failed to sign in. Please check your credentials."
	MessageEmailInUse         = "This email is already registered."
	MessageInvalidEmail       = "Invalid email address."
	MessageWeakPassword       = "Password is too weak. Please use at least 6 characters."
	MessagePasswordTooShort   = "Password must be at least 6 characters"
	MessageInvalidRole        = "Please choose a valid role."
	MessageDisplayName        = "Display name is required."
	MessageCreateUserFailed   = "Failed to create user. Please try again."
	MessageUserCreated        = "User created successfully! Redirecting to login..."
)

// SignInMessage maps a sign in error to the text shown on the login form
func SignInMessage(err error) string {
	if err == nil {
		return ""
	}

	switch TextCode(err) {
	case TextCodeInvalidCredentials, TextCodeUnknownAccount:
		return MessageInvalidCredentials
	case TextCodeTooManyAttempts:
		return MessageTooManyAttempts
	default:
		return MessageSignInFailed
	}
}

// CreateUserMessage maps a provisioning error to the text shown on the
// registration form
func CreateUserMessage(err error) string {
	if err == nil {
		return ""
	}

	switch TextCode(err) {
	case TextCodeAccountAlreadyExists:
		return MessageEmailInUse
	case TextCodeInvalidEmail:
		return MessageInvalidEmail
	case TextCodeWeakPassword:
		return MessageWeakPassword
	case TextCodeInvalidRole:
		return MessageInvalidRole
	case TextCodeInvalidDisplayName:
		return MessageDisplayName
	default:
		return MessageCreateUserFailed
	}
}
