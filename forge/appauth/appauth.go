// Package appauth mints forge-app credentials: a short-lived RS256
// assertion identifying the app, exchanged for installation tokens
// through the apps API. Tokens are cached per installation for the
// process lifetime and refreshed shortly before expiry.
package appauth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// Assertion claim windows. Issued-at is backdated to absorb clock skew
// between this host and the forge; the forge rejects assertions valid
// longer than ten minutes.
const (
	issuedAtSkew  = 60 * time.Second
	assertionTTL  = 540 * time.Second
	refreshMargin = 60 * time.Second
)

// Identity is the app identity secret payload.
type Identity struct {
	AppID          int64 `json:"app_id"`
	InstallationID int64 `json:"installation_id"`
}

// ParseIdentity decodes and validates the identity secret JSON.
func ParseIdentity(data []byte) (Identity, error) {
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return Identity{}, fmt.Errorf("parsing app identity: %w", err)
	}
	if id.AppID <= 0 {
		return Identity{}, fmt.Errorf("app identity: app_id must be positive, got %d", id.AppID)
	}
	if id.InstallationID <= 0 {
		return Identity{}, fmt.Errorf("app identity: installation_id must be positive, got %d", id.InstallationID)
	}
	return id, nil
}

// exchangeFunc swaps an app assertion for an installation token.
type exchangeFunc func(ctx context.Context, assertion string, installationID int64) (string, time.Time, error)

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// Authenticator holds the app identity and signing key and serves
// installation tokens.
type Authenticator struct {
	identity Identity
	key      *rsa.PrivateKey
	baseURL  string
	exchange exchangeFunc

	mu     sync.Mutex
	tokens map[int64]cachedToken
}

// New builds an authenticator from the identity secret and a PEM
// private key. baseURL selects a non-default forge API host; empty
// means the public forge.
func New(identity Identity, pemKey []byte, baseURL string) (*Authenticator, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("parsing app signing key: %w", err)
	}
	a := &Authenticator{
		identity: identity,
		key:      key,
		baseURL:  baseURL,
		tokens:   make(map[int64]cachedToken),
	}
	a.exchange = a.exchangeViaAPI
	return a, nil
}

// Assertion mints the app JWT: issuer is the app id, issued-at is
// backdated by the skew window, expiry is nine minutes out.
func (a *Authenticator) Assertion(now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(a.identity.AppID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-issuedAtSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("signing app assertion: %w", err)
	}
	return signed, nil
}

// InstallationToken returns a token for the installation. A zero
// installationID selects the configured default; a webhook-supplied id
// overrides it. Cached tokens are reused until shortly before expiry.
func (a *Authenticator) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	if installationID == 0 {
		installationID = a.identity.InstallationID
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if cached, ok := a.tokens[installationID]; ok {
		if time.Until(cached.expiresAt) > refreshMargin {
			return cached.token, nil
		}
	}

	assertion, err := a.Assertion(time.Now())
	if err != nil {
		return "", err
	}
	token, expiresAt, err := a.exchange(ctx, assertion, installationID)
	if err != nil {
		return "", fmt.Errorf("exchanging assertion for installation %d: %w", installationID, err)
	}

	a.tokens[installationID] = cachedToken{token: token, expiresAt: expiresAt}
	return token, nil
}

// exchangeViaAPI performs the real apps-API token exchange using the
// assertion as a bearer credential.
func (a *Authenticator) exchangeViaAPI(ctx context.Context, assertion string, installationID int64) (string, time.Time, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: assertion})
	httpClient := oauth2.NewClient(ctx, src)
	httpClient.Timeout = 15 * time.Second

	gh := github.NewClient(httpClient)
	if a.baseURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(a.baseURL, a.baseURL)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("configuring forge base URL: %w", err)
		}
	}

	token, resp, err := gh.Apps.CreateInstallationToken(ctx, installationID, &github.InstallationTokenOptions{})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return "", time.Time{}, fmt.Errorf("assertion rejected: %w", err)
		}
		return "", time.Time{}, err
	}
	return token.GetToken(), token.GetExpiresAt().Time, nil
}
