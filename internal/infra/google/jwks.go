// Package google verifies Google Sign-In ID tokens against the issuer's
// published JWKS.
package google

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"trendtide/internal/domain"
)

const (
	DefaultIssuer = "https://accounts.google.com"
	keyTTL        = time.Hour
	clockSkew     = time.Minute
)

var ErrInvalidIDToken = errors.New("invalid id token")

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type idClaims struct {
	Iss           string `json:"iss"`
	Aud           any    `json:"aud"`
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
	Locale        string `json:"locale"`
	Exp           int64  `json:"exp"`
}

type Options struct {
	Issuer     string
	ClientID   string
	HTTPClient *http.Client
}

// Verifier caches signing keys by kid and refetches on an unknown kid.
type Verifier struct {
	issuer     string
	clientID   string
	httpClient *http.Client
	keys       *cache.Cache
	refreshMu  sync.Mutex
	now        func() time.Time
}

func NewVerifier(opts Options) *Verifier {
	issuer := strings.TrimRight(strings.TrimSpace(opts.Issuer), "/")
	if issuer == "" {
		issuer = DefaultIssuer
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Verifier{
		issuer:     issuer,
		clientID:   strings.TrimSpace(opts.ClientID),
		httpClient: client,
		keys:       cache.New(keyTTL, 2*keyTTL),
		now:        time.Now,
	}
}

// Verify checks signature, issuer, audience, expiry and email verification and
// returns the requester identity. Google tokens carry no plan claim.
func (v *Verifier) Verify(ctx context.Context, token string) (domain.Identity, error) {
	header, claims, signature, signingInput, err := parseJWT(token)
	if err != nil {
		return domain.Identity{}, err
	}
	if header.Alg != "RS256" {
		return domain.Identity{}, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidIDToken, header.Alg)
	}
	key, err := v.key(ctx, header.Kid)
	if err != nil {
		return domain.Identity{}, err
	}
	hashed := sha256.Sum256([]byte(signingInput))
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, hashed[:], signature); err != nil {
		return domain.Identity{}, fmt.Errorf("%w: signature", ErrInvalidIDToken)
	}
	if !v.issuerMatches(claims.Iss) {
		return domain.Identity{}, fmt.Errorf("%w: issuer %q", ErrInvalidIDToken, claims.Iss)
	}
	if !audienceMatches(claims.Aud, v.clientID) {
		return domain.Identity{}, fmt.Errorf("%w: audience", ErrInvalidIDToken)
	}
	if claims.Exp == 0 || v.now().Add(-clockSkew).Unix() > claims.Exp {
		return domain.Identity{}, fmt.Errorf("%w: expired", ErrInvalidIDToken)
	}
	if verified, ok := claims.EmailVerified.(bool); ok && !verified {
		return domain.Identity{}, fmt.Errorf("%w: email not verified", ErrInvalidIDToken)
	}
	if s, ok := claims.EmailVerified.(string); ok && s != "true" {
		return domain.Identity{}, fmt.Errorf("%w: email not verified", ErrInvalidIDToken)
	}
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		return domain.Identity{}, fmt.Errorf("%w: no email", ErrInvalidIDToken)
	}
	return domain.Identity{Email: email, Locale: strings.TrimSpace(claims.Locale)}, nil
}

// Google issues both the bare host and the https form.
func (v *Verifier) issuerMatches(iss string) bool {
	if iss == v.issuer {
		return true
	}
	return strings.TrimPrefix(v.issuer, "https://") == iss
}

func audienceMatches(aud any, clientID string) bool {
	if clientID == "" {
		return false
	}
	switch a := aud.(type) {
	case string:
		return a == clientID
	case []string:
		for _, s := range a {
			if s == clientID {
				return true
			}
		}
	case []any:
		for _, s := range a {
			if str, ok := s.(string); ok && str == clientID {
				return true
			}
		}
	}
	return false
}

func (v *Verifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if k, ok := v.keys.Get(kid); ok {
		return k.(*rsa.PublicKey), nil
	}
	v.refreshMu.Lock()
	defer v.refreshMu.Unlock()
	if k, ok := v.keys.Get(kid); ok {
		return k.(*rsa.PublicKey), nil
	}
	if err := v.refresh(ctx); err != nil {
		return nil, err
	}
	if k, ok := v.keys.Get(kid); ok {
		return k.(*rsa.PublicKey), nil
	}
	return nil, fmt.Errorf("%w: unknown kid %q", ErrInvalidIDToken, kid)
}

func (v *Verifier) refresh(ctx context.Context) error {
	var discovery struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := v.getJSON(ctx, v.issuer+"/.well-known/openid-configuration", &discovery); err != nil {
		return fmt.Errorf("openid discovery: %w", err)
	}
	if discovery.JWKSURI == "" {
		return errors.New("openid discovery: jwks_uri missing")
	}
	var set jwks
	if err := v.getJSON(ctx, discovery.JWKSURI, &set); err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	loaded := 0
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaKeyFromJWK(k)
		if err != nil {
			continue
		}
		v.keys.SetDefault(k.Kid, pub)
		loaded++
	}
	if loaded == 0 {
		return errors.New("fetch jwks: no usable keys")
	}
	return nil
}

func (v *Verifier) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func rsaKeyFromJWK(j jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}
	if e == 0 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

type jwtHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

func parseJWT(token string) (jwtHeader, idClaims, []byte, string, error) {
	var (
		header jwtHeader
		claims idClaims
	)
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return header, claims, nil, "", ErrInvalidIDToken
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return header, claims, nil, "", fmt.Errorf("%w: header", ErrInvalidIDToken)
	}
	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return header, claims, nil, "", fmt.Errorf("%w: payload", ErrInvalidIDToken)
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return header, claims, nil, "", fmt.Errorf("%w: signature encoding", ErrInvalidIDToken)
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return header, claims, nil, "", fmt.Errorf("%w: header", ErrInvalidIDToken)
	}
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return header, claims, nil, "", fmt.Errorf("%w: payload", ErrInvalidIDToken)
	}
	return header, claims, signature, parts[0] + "." + parts[1], nil
}
