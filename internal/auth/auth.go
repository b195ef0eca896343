// Package auth handles the GitHub OAuth flow and the session JWTs the
// API issues. The GitHub access token obtained during login is carried
// inside the session claims so audit and indexing requests can read
// private repositories on the user's behalf.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type contextKey string

const userContextKey contextKey = "user"

// ErrNotConfigured is returned when auth operations run on a disabled
// service.
var ErrNotConfigured = errors.New("auth not configured")

// sessionTTL is how long an issued session token stays valid.
const sessionTTL = 24 * time.Hour

// User is the authenticated GitHub identity attached to requests.
type User struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// Claims is the session JWT payload. AccessToken is the GitHub OAuth
// token; it never appears in API responses, only inside the signed JWT.
type Claims struct {
	User
	AccessToken string `json:"access_token,omitempty"`
	jwt.RegisteredClaims
}

// Config carries the OAuth app credentials and signing secret.
type Config struct {
	JWTSecret    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AllowedOrg   string
	Enabled      bool
}

// Service implements the OAuth exchange and JWT issuance. The zero
// value is a disabled service that lets every request through.
type Service struct {
	cfg  Config
	http *http.Client

	// overridable in tests
	oauthURL string
	apiURL   string
}

// NewService builds an auth service from config.
func NewService(cfg Config) *Service {
	return &Service{
		cfg:      cfg,
		http:     &http.Client{Timeout: 10 * time.Second},
		oauthURL: "https://github.com",
		apiURL:   "https://api.github.com",
	}
}

// Enabled reports whether requests must carry a valid session token.
func (s *Service) Enabled() bool {
	return s != nil && s.cfg.Enabled
}

// GenerateState creates the random state parameter for the OAuth
// redirect.
func (s *Service) GenerateState() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("fallback-state-%d", time.Now().UnixNano())
	}
	return base64.URLEncoding.EncodeToString(b)
}

// LoginURL returns the GitHub authorize URL for the given state. The
// repo scope is always requested so audits can read private code.
func (s *Service) LoginURL(state string) string {
	scope := "read:user,user:email,repo"
	if s.cfg.AllowedOrg != "" {
		scope += ",read:org"
	}
	q := url.Values{}
	q.Set("client_id", s.cfg.ClientID)
	q.Set("redirect_uri", s.cfg.RedirectURL)
	q.Set("scope", scope)
	q.Set("state", state)
	return s.oauthURL + "/login/oauth/authorize?" + q.Encode()
}

// Exchange swaps the OAuth callback code for a GitHub access token.
func (s *Service) Exchange(ctx context.Context, code string) (string, error) {
	if s.cfg.ClientID == "" {
		return "", ErrNotConfigured
	}

	form := url.Values{}
	form.Set("client_id", s.cfg.ClientID)
	form.Set("client_secret", s.cfg.ClientSecret)
	form.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.oauthURL+"/login/oauth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)

	var result struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.AccessToken == "" {
		if result.Error != "" {
			return "", fmt.Errorf("oauth exchange failed: %s", result.Error)
		}
		return "", errors.New("oauth exchange returned no access token")
	}
	return result.AccessToken, nil
}

// FetchUser resolves the access token to a GitHub identity, enforcing
// org membership when AllowedOrg is set.
func (s *Service) FetchUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github user lookup returned status %d", resp.StatusCode)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, err
	}

	if s.cfg.AllowedOrg != "" && !s.isOrgMember(ctx, accessToken, user.Login) {
		return nil, fmt.Errorf("user %s is not a member of %s", user.Login, s.cfg.AllowedOrg)
	}
	return &user, nil
}

func (s *Service) isOrgMember(ctx context.Context, accessToken, login string) bool {
	u := fmt.Sprintf("%s/orgs/%s/members/%s", s.apiURL, s.cfg.AllowedOrg, login)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.http.Do(req)
	if err != nil {
		return false
	}
	defer closeBody(resp)

	// 204 for public members, 200 for private members.
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent
}

// IssueSession signs a session JWT binding the user identity to the
// GitHub access token.
func (s *Service) IssueSession(user *User, accessToken string) (string, error) {
	if s.cfg.JWTSecret == "" {
		return "", ErrNotConfigured
	}
	now := time.Now()
	claims := Claims{
		User:        *user,
		AccessToken: accessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Login,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// ParseSession validates a session token and returns its claims.
func (s *Service) ParseSession(tokenString string) (*Claims, error) {
	if s.cfg.JWTSecret == "" {
		return nil, ErrNotConfigured
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}

// Middleware validates the session on protected routes. When the
// service is disabled every request passes through untouched.
func (s *Service) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := bearerToken(r)
		if tokenString == "" {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		claims, err := s.ParseSession(tokenString)
		if err != nil {
			http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookie, err := r.Cookie("auth_token"); err == nil {
		return cookie.Value
	}
	return ""
}

// ClaimsFromRequest returns the session claims set by Middleware, or
// nil for unauthenticated requests.
func ClaimsFromRequest(r *http.Request) *Claims {
	if claims, ok := r.Context().Value(userContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// SourceToken returns the GitHub token an audit or index request should
// use: the session's token when present, else the empty string for
// anonymous public-repo access.
func SourceToken(r *http.Request) string {
	if claims := ClaimsFromRequest(r); claims != nil {
		return claims.AccessToken
	}
	return ""
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close response body")
	}
}
