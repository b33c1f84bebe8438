package auth

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	CookieName = "token"
	// SessionCookieName is the only cookie some hosting providers forward
	// to the origin.
	SessionCookieName = "__session"
)

// CookiePolicy holds the attributes that decide whether a browser will send
// the session cookie on cross-origin requests.
type CookiePolicy struct {
	SameSite http.SameSite
	Secure   bool
}

// CookiePolicyFor picks SameSite=None; Secure when the client and the API are
// different origins in production, and SameSite=Lax otherwise. Secure is set
// whenever the server runs in production.
func CookiePolicyFor(production bool, clientOrigin, apiOrigin string) CookiePolicy {
	if production && isCrossOrigin(clientOrigin, apiOrigin) {
		return CookiePolicy{SameSite: http.SameSiteNoneMode, Secure: true}
	}
	return CookiePolicy{SameSite: http.SameSiteLaxMode, Secure: production}
}

// isCrossOrigin compares scheme, host and port. An unknown API origin with a
// known client origin is treated as cross-origin.
func isCrossOrigin(clientOrigin, apiOrigin string) bool {
	if clientOrigin == "" {
		return false
	}
	if apiOrigin == "" {
		return true
	}

	c, err := url.Parse(clientOrigin)
	if err != nil {
		return true
	}
	a, err := url.Parse(apiOrigin)
	if err != nil {
		return true
	}

	return !strings.EqualFold(c.Scheme, a.Scheme) ||
		!strings.EqualFold(c.Hostname(), a.Hostname()) ||
		effectivePort(c) != effectivePort(a)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		return "443"
	default:
		return "80"
	}
}

// SessionCookies writes and clears the session cookie(s).
type SessionCookies struct {
	Policy CookiePolicy
	// Mirror also writes the token under SessionCookieName.
	Mirror bool
}

func (c SessionCookies) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Policy.Secure,
		SameSite: c.Policy.SameSite,
	}
}

// Set writes the session token cookie.
func (c SessionCookies) Set(w http.ResponseWriter, token string) {
	maxAge := int(TokenExpiry.Seconds())
	http.SetCookie(w, c.cookie(CookieName, token, maxAge))
	if c.Mirror {
		http.SetCookie(w, c.cookie(SessionCookieName, token, maxAge))
	}
}

// Clear expires both cookie names with the attributes they were set with.
func (c SessionCookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(CookieName, "", -1))
	http.SetCookie(w, c.cookie(SessionCookieName, "", -1))
}

// TokenFromRequest returns the session token from the `token` cookie, then
// the `__session` cookie, then the Authorization bearer header. The query
// parameter is only consulted when allowQuery is set.
func TokenFromRequest(r *http.Request, allowQuery bool) string {
	for _, name := range []string{CookieName, SessionCookieName} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}

	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}

	if allowQuery {
		return r.URL.Query().Get("token")
	}
	return ""
}
