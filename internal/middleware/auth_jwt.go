package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"trendtide/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// TokenClaims are the HS256 claims issued by the identity provider. Email
// falls back to Sub when absent.
type TokenClaims struct {
	Sub    string `json:"sub"`
	Email  string `json:"email,omitempty"`
	Plan   string `json:"plan,omitempty"`
	Locale string `json:"locale,omitempty"`
	Exp    int64  `json:"exp,omitempty"`
	Iat    int64  `json:"iat,omitempty"`
}

type jwtHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type identityKey struct{}

func SignJWT(secret string, claims TokenClaims) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	headerJSON, err := json.Marshal(jwtHeader{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	data := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	return data + "." + hmacSign(secret, data), nil
}

func hmacSign(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyJWT checks the signature, algorithm and expiry of token.
func VerifyJWT(secret, token string, now time.Time) (*TokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || secret == "" {
		return nil, ErrInvalidToken
	}
	expected := hmacSign(secret, parts[0]+"."+parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}
	rawHeader, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header encoding", ErrInvalidToken)
	}
	var header jwtHeader
	if err := json.Unmarshal(rawHeader, &header); err != nil || header.Alg != "HS256" {
		return nil, fmt.Errorf("%w: unsupported algorithm", ErrInvalidToken)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload encoding", ErrInvalidToken)
	}
	var claims TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: payload", ErrInvalidToken)
	}
	if claims.Exp != 0 && now.Unix() > claims.Exp {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}

// Identity converts verified claims into the requester identity.
func (c TokenClaims) Identity() domain.Identity {
	email := strings.TrimSpace(c.Email)
	if email == "" {
		email = strings.TrimSpace(c.Sub)
	}
	return domain.Identity{
		Email:  strings.ToLower(email),
		Plan:   strings.TrimSpace(c.Plan),
		Locale: strings.TrimSpace(c.Locale),
	}
}

// TokenVerifier checks tokens signed by an external identity provider.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// AuthJWT attaches the bearer token's identity to the request context.
// Requests without an Authorization header pass through anonymously so that
// handlers decide whether identity is required; a malformed or invalid token is
// rejected with 401. RS256 tokens go to external when it is set.
func AuthJWT(secret string, external TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}
			scheme, token, ok := strings.Cut(authHeader, " ")
			token = strings.TrimSpace(token)
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid authorization header")
				return
			}

			var id domain.Identity
			if external != nil && tokenAlgorithm(token) == "RS256" {
				var err error
				if id, err = external.Verify(r.Context(), token); err != nil {
					writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
					return
				}
			} else {
				claims, err := VerifyJWT(secret, token, time.Now())
				if err != nil {
					msg := "invalid token"
					if errors.Is(err, ErrTokenExpired) {
						msg = "token expired"
					}
					writeError(w, http.StatusUnauthorized, "unauthorized", msg)
					return
				}
				id = claims.Identity()
			}
			if id.Email == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "token has no subject")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}

// tokenAlgorithm reads the alg header without verifying anything.
func tokenAlgorithm(token string) string {
	head, _, ok := strings.Cut(token, ".")
	if !ok {
		return ""
	}
	raw, err := base64.RawURLEncoding.DecodeString(head)
	if err != nil {
		return ""
	}
	var header jwtHeader
	if json.Unmarshal(raw, &header) != nil {
		return ""
	}
	return header.Alg
}

// IdentityFromContext returns the authenticated requester, if any.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(domain.Identity)
	return id, ok && id.Email != ""
}

func ContextWithIdentity(ctx context.Context, id domain.Identity) context.Context {
	if strings.TrimSpace(id.Email) == "" {
		return ctx
	}
	return context.WithValue(ctx, identityKey{}, id)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": code, "message": message}})
}
