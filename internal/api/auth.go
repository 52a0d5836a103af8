package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/JakeFAU/linkcapture/internal/capture"
)

// Authorizer decides whether a request may write links.
type Authorizer interface {
	Authorized(r *http.Request) bool
}

// KeyAuthorizer accepts the shared API key as a bearer token or, failing
// that, as the session cookie. An empty key authorizes nobody.
type KeyAuthorizer struct {
	key        string
	cookieName string
}

// NewKeyAuthorizer creates a KeyAuthorizer.
func NewKeyAuthorizer(key, cookieName string) *KeyAuthorizer {
	if cookieName == "" {
		cookieName = "links_auth"
	}
	return &KeyAuthorizer{key: key, cookieName: cookieName}
}

// Authorized checks the bearer token first, then the cookie.
func (a *KeyAuthorizer) Authorized(r *http.Request) bool {
	if a.key == "" {
		return false
	}
	if token, ok := bearerToken(r); ok {
		return keyEqual(token, a.key)
	}
	if c, err := r.Cookie(a.cookieName); err == nil && c.Value != "" {
		return keyEqual(c.Value, a.key)
	}
	return false
}

func keyEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return h[len("Bearer "):], true
}

// clientIP is the first X-Forwarded-For entry, else the peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return "unknown"
}

// clientIdentity keys the fetch and create quotas: callers with a bearer
// token are counted by its first eight characters, everyone else by IP.
func clientIdentity(r *http.Request) string {
	if token, ok := bearerToken(r); ok {
		if len(token) > 8 {
			token = token[:8]
		}
		return "apikey:" + token
	}
	return "ip:" + clientIP(r)
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authz.Authorized(r) {
			writeError(w, http.StatusUnauthorized, "Unauthorized", capture.KindUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	APIKey string `json:"apiKey"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, ClassAuth, "auth:"+clientIP(r), "Too many authentication attempts. Please try again later.") {
		return
	}

	var req loginRequest
	if !decodeJSON(w, r, maxJSONBody, &req) {
		return
	}
	if req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "API key is required", capture.KindValidation)
		return
	}
	if s.cfg.Auth.APIKey == "" {
		s.logger.Error("login attempted without a configured api key")
		writeError(w, http.StatusInternalServerError, "Server configuration error", "")
		return
	}
	if !keyEqual(req.APIKey, s.cfg.Auth.APIKey) {
		writeError(w, http.StatusUnauthorized, "Invalid API key", capture.KindUnauthorized)
		return
	}

	http.SetCookie(w, s.sessionCookie(req.APIKey, int(s.cfg.CookieMaxAge().Seconds())))
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, s.sessionCookie("", -1))
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// sessionCookie builds the auth cookie; a negative maxAge deletes it.
func (s *Server) sessionCookie(value string, maxAge int) *http.Cookie {
	name := s.cfg.Auth.CookieName
	if name == "" {
		name = "links_auth"
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.Auth.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	}
}
