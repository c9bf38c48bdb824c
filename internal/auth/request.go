package auth

import (
	"net/http"
	"strings"
)

// CookieName is the cookie that carries the session token.
const CookieName = "token"

// TokenFromRequest looks for a token in the Authorization header, then the session
// cookie, then the "token" query parameter. Browsers cannot set headers on websocket
// upgrades, hence the last two.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}
