package httpapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
)

type authError struct {
	status  int
	code    string
	message string
}

// authorize checks HTTP Basic credentials against the configured admin
// account. Comparison runs over fixed-length digests so it leaks no
// timing information about either value.
func (s *Server) authorize(r *http.Request) *authError {
	if s.cfg.AdminUser == "" || s.cfg.AdminPassword == "" {
		return &authError{status: http.StatusServiceUnavailable, code: "auth_unconfigured", message: "admin credentials are not configured"}
	}
	user, password, ok := r.BasicAuth()
	if !ok {
		return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "missing credentials"}
	}
	userMatch := constantTimeEqual(user, s.cfg.AdminUser)
	passwordMatch := constantTimeEqual(password, s.cfg.AdminPassword)
	if !userMatch || !passwordMatch {
		return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "invalid credentials"}
	}
	return nil
}

func constantTimeEqual(a, b string) bool {
	digestA := sha256.Sum256([]byte(a))
	digestB := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(digestA[:], digestB[:]) == 1
}
