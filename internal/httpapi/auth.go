package httpapi

import (
	"crypto/hmac"
	"strings"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// authorizeBearer checks the shared control token. An empty expected token
// disables the check.
func authorizeBearer(authHeader, expected string) *authError {
	if expected == "" {
		return nil
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return &authError{
			status:  401,
			code:    "unauthorized",
			message: "missing or invalid bearer token",
		}
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if !hmac.Equal([]byte(raw), []byte(expected)) {
		return &authError{
			status:  401,
			code:    "unauthorized",
			message: "invalid bearer token",
		}
	}
	return nil
}
