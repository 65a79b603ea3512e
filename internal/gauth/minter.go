// Package gauth mints short-lived Google access tokens for a service
// account using the JWT bearer assertion grant.
package gauth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jws"
)

const (
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
	DefaultScope    = "https://www.googleapis.com/auth/datastore"

	grantType     = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	tokenLifetime = time.Hour
)

// AuthError is returned when the signing key is unusable or the token
// endpoint refuses the assertion.
type AuthError struct {
	Status      int
	Description string
	Err         error
}

func (e *AuthError) Error() string {
	msg := "auth: " + e.Description
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ServiceAccount identifies the signer. PrivateKey is a PKCS8 PEM block;
// literal "\n" sequences are accepted in place of newlines.
type ServiceAccount struct {
	ClientEmail string
	PrivateKey  string
}

// LogValue keeps the key out of structured logs.
func (sa ServiceAccount) LogValue() slog.Value {
	return slog.GroupValue(slog.String("client_email", sa.ClientEmail))
}

type MinterOption func(*Minter)

func WithTokenURL(u string) MinterOption {
	return func(m *Minter) {
		if u != "" {
			m.tokenURL = u
		}
	}
}

func WithScope(scope string) MinterOption {
	return func(m *Minter) {
		if scope != "" {
			m.scope = scope
		}
	}
}

func WithHTTPClient(hc *http.Client) MinterOption {
	return func(m *Minter) {
		m.http = hc
	}
}

func WithClock(now func() time.Time) MinterOption {
	return func(m *Minter) {
		m.now = now
	}
}

// WithMintObserver registers a callback invoked after every exchange.
func WithMintObserver(fn func(err error)) MinterOption {
	return func(m *Minter) {
		m.observe = fn
	}
}

// Minter builds signed assertions and exchanges them for access tokens.
// It holds no token state; each Mint performs a full exchange.
type Minter struct {
	tokenURL string
	scope    string
	http     *http.Client
	now      func() time.Time
	observe  func(error)
}

func NewMinter(opts ...MinterOption) *Minter {
	m := &Minter{
		tokenURL: DefaultTokenURL,
		scope:    DefaultScope,
		http:     &http.Client{Timeout: 30 * time.Second},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mint signs an assertion for sa and exchanges it for an access token.
func (m *Minter) Mint(ctx context.Context, sa ServiceAccount) (*oauth2.Token, error) {
	tok, err := m.mint(ctx, sa)
	if m.observe != nil {
		m.observe(err)
	}
	return tok, err
}

func (m *Minter) mint(ctx context.Context, sa ServiceAccount) (*oauth2.Token, error) {
	iat := m.now().Unix()
	assertion, err := m.Assertion(sa, iat)
	if err != nil {
		return nil, err
	}
	return m.exchange(ctx, assertion, time.Unix(iat, 0).Add(tokenLifetime))
}

// Assertion returns the compact RS256 JWT for sa issued at iat (unix seconds).
func (m *Minter) Assertion(sa ServiceAccount, iat int64) (string, error) {
	if sa.ClientEmail == "" {
		return "", &AuthError{Description: "service account email is empty"}
	}
	key, err := ParsePrivateKey(sa.PrivateKey)
	if err != nil {
		return "", &AuthError{Description: "invalid private key", Err: err}
	}

	header := &jws.Header{Algorithm: "RS256", Typ: "JWT"}
	claims := &jws.ClaimSet{
		Iss:   sa.ClientEmail,
		Scope: m.scope,
		Aud:   m.tokenURL,
		Iat:   iat,
		Exp:   iat + int64(tokenLifetime/time.Second),
	}
	assertion, err := jws.Encode(header, claims, key)
	if err != nil {
		return "", &AuthError{Description: "sign assertion", Err: err}
	}
	return assertion, nil
}

// ParsePrivateKey decodes a PKCS8 RSA key. The DER buffer is cleared once
// the key has been parsed.
func ParsePrivateKey(pemKey string) (*rsa.PrivateKey, error) {
	normalized := strings.ReplaceAll(pemKey, `\n`, "\n")
	if strings.TrimSpace(normalized) == "" {
		return nil, errors.New("empty key")
	}

	var der []byte
	if block, _ := pem.Decode([]byte(normalized)); block != nil {
		der = block.Bytes
	} else {
		body := strings.Join(strings.Fields(normalized), "")
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, fmt.Errorf("not a PEM block: %w", err)
		}
		der = decoded
	}
	defer clear(der)

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported key type %T", parsed)
	}
	return key, nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (m *Minter) exchange(ctx context.Context, assertion string, fallbackExpiry time.Time) (*oauth2.Token, error) {
	form := url.Values{}
	form.Set("grant_type", grantType)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthError{Description: "build token request", Err: err}
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, &AuthError{Description: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &AuthError{Status: resp.StatusCode, Description: "read token response", Err: err}
	}

	var tr tokenResponse
	decodeErr := json.Unmarshal(body, &tr)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		desc := tr.ErrorDescription
		if desc == "" {
			desc = tr.Error
		}
		if desc == "" {
			desc = "token error"
		}
		return nil, &AuthError{Status: resp.StatusCode, Description: desc}
	}
	if decodeErr != nil {
		return nil, &AuthError{Status: resp.StatusCode, Description: "token response not in json form", Err: decodeErr}
	}
	if tr.AccessToken == "" {
		return nil, &AuthError{Status: resp.StatusCode, Description: "token response missing access_token"}
	}

	tok := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		Expiry:      fallbackExpiry,
	}
	if tr.ExpiresIn > 0 {
		tok.Expiry = m.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}
