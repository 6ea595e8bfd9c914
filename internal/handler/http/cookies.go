package http

import (
	"net/http"
	"time"

	"github.com/utafrali/VideoTubeGo/internal/domain"
)

// CookieConfig holds the attributes applied to every session cookie.
type CookieConfig struct {
	Secure bool
	Domain string
}

// apply turns cookie directives into Set-Cookie headers. Session cookies are
// always HttpOnly with SameSite=Lax on the root path.
func (c CookieConfig) apply(w http.ResponseWriter, directives []domain.CookieDirective) {
	for _, d := range directives {
		cookie := &http.Cookie{
			Name:     d.Name,
			Value:    d.Value,
			Path:     "/",
			Domain:   c.Domain,
			Secure:   c.Secure,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		}
		if d.Clear {
			cookie.Value = ""
			cookie.MaxAge = -1
			cookie.Expires = time.Unix(0, 0)
		} else if !d.Expires.IsZero() {
			cookie.Expires = d.Expires
		}
		http.SetCookie(w, cookie)
	}
}
