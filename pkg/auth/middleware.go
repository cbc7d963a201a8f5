package auth

import (
	"net/http"
	"strings"
)

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value
func BearerToken(header string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(header), " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// TokenFromRequest finds a client token on a websocket upgrade request. The
// token query parameter wins over the Authorization header, since browsers
// cannot set headers on a websocket handshake.
func TokenFromRequest(r *http.Request) (string, error) {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token, nil
	}
	if token, ok := BearerToken(r.Header.Get("Authorization")); ok {
		return token, nil
	}
	return "", ErrMissingToken
}
