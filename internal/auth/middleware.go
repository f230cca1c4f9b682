package auth

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sha1n/relic-search/internal/config"
)

// Realm is announced to basic auth clients.
const Realm = "relic-search"

// publicPaths bypass authentication
var publicPaths = map[string]bool{
	"/health": true,
}

// NewMiddleware creates the authentication middleware for settings
func NewMiddleware(settings config.AuthSettings) (func(http.Handler) http.Handler, error) {
	var check func(*http.Request) bool

	switch settings.Type {
	case config.AuthTypeNone, "":
		return func(next http.Handler) http.Handler {
			return next
		}, nil
	case config.AuthTypeBasic:
		if settings.Basic.Username == "" || settings.Basic.Password == "" {
			return nil, fmt.Errorf("basic auth requires non-empty username and password")
		}
		check = basicAuthCheck(settings.Basic)
	case config.AuthTypeAPIKey:
		if len(settings.APIKeys) == 0 {
			return nil, fmt.Errorf("apikey auth requires at least one API key")
		}
		check = apiKeyCheck(settings.APIKeys)
	default:
		return nil, fmt.Errorf("unknown auth type: %s", settings.Type)
	}

	return guard(settings.Type, check), nil
}

// guard rejects requests to non-public paths that fail check
func guard(authType string, check func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] || check(r) {
				next.ServeHTTP(w, r)
				return
			}
			slog.Warn("Rejected unauthenticated request", "path", r.URL.Path, "remote", r.RemoteAddr, "auth_type", authType)
			if authType == config.AuthTypeBasic {
				w.Header().Set("WWW-Authenticate", `Basic realm="`+Realm+`"`)
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}

func basicAuthCheck(settings config.BasicAuthSettings) func(*http.Request) bool {
	return func(r *http.Request) bool {
		user, pass, ok := r.BasicAuth()
		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(settings.Username)) == 1
		passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(settings.Password)) == 1
		return ok && userMatch && passMatch
	}
}

// apiKeyCheck accepts the key in X-API-Key or as a bearer token
func apiKeyCheck(apiKeys []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		key := requestAPIKey(r)
		if key == "" {
			return false
		}
		valid := false
		for _, k := range apiKeys {
			if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
				valid = true
			}
		}
		return valid
	}
}

func requestAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
