package domain

import "time"

// Session cookie names.
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

// CookieDirective tells the transport layer to set or clear a cookie.
// Attributes such as HttpOnly and Secure are applied by the transport.
type CookieDirective struct {
	Name    string
	Value   string
	Expires time.Time
	Clear   bool
}

// SetCookie returns a directive that stores value until expires.
func SetCookie(name, value string, expires time.Time) CookieDirective {
	return CookieDirective{Name: name, Value: value, Expires: expires}
}

// ClearCookie returns a directive that removes the named cookie.
func ClearCookie(name string) CookieDirective {
	return CookieDirective{Name: name, Clear: true}
}

// SessionCookies returns the directives that hand pair to the client.
func SessionCookies(pair *TokenPair) []CookieDirective {
	return []CookieDirective{
		SetCookie(AccessTokenCookie, pair.AccessToken, pair.AccessExpiresAt),
		SetCookie(RefreshTokenCookie, pair.RefreshToken, pair.RefreshExpiresAt),
	}
}

// ClearedSessionCookies returns the directives that discard both session cookies.
func ClearedSessionCookies() []CookieDirective {
	return []CookieDirective{
		ClearCookie(AccessTokenCookie),
		ClearCookie(RefreshTokenCookie),
	}
}
