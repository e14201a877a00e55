package githubapp

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"reviewhook/internal"
)

const defaultBaseURL = "https://api.github.com"

// GitHub rejects app assertions valid for more than ten minutes.
const assertionTTL = 600 * time.Second

// AppCredential identifies the GitHub App. It is loaded once at startup and
// immutable afterwards; the key never leaves the process, it only signs
// assertions locally.
type AppCredential struct {
	AppID int64
	key   *rsa.PrivateKey
}

// LoadCredential parses a PEM-encoded RSA private key (PKCS#1 or PKCS#8).
func LoadCredential(appID int64, pemData []byte) (*AppCredential, error) {
	if appID == 0 {
		return nil, errors.New("app id is required")
	}
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("private key PEM decode failed")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &AppCredential{AppID: appID, key: key}, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return &AppCredential{AppID: appID, key: key}, nil
}

// LoadCredentialFile reads the key from disk.
func LoadCredentialFile(appID int64, path string) (*AppCredential, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadCredential(appID, pemData)
}

// InstallationToken is a short-lived credential scoped to one installation.
// The value must never be logged or persisted.
type InstallationToken struct {
	Value          string
	ExpiresAt      time.Time
	InstallationID int64
}

// usable reports whether the token is still valid at now, with skew headroom
// so a token is not handed out moments before GitHub rejects it.
func (t InstallationToken) usable(now time.Time, skew time.Duration) bool {
	return t.Value != "" && now.Add(skew).Before(t.ExpiresAt)
}

// TokenExchangeError is returned when GitHub's token endpoint answers with
// anything but 201. Credential problems (401/403) land here too; retrying
// does not fix those, so the minter never retries.
type TokenExchangeError struct {
	StatusCode int
	Body       string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// TokenMinter exchanges signed app assertions for installation tokens and
// caches them per installation until expiry.
type TokenMinter struct {
	cred    *AppCredential
	baseURL string
	client  *http.Client
	cache   *tokenCache
	now     func() time.Time
}

// NewTokenMinter creates a minter for the given credential. An empty baseURL
// means api.github.com; anything else is treated as a GitHub Enterprise
// Server endpoint.
func NewTokenMinter(cred *AppCredential, baseURL string) (*TokenMinter, error) {
	if cred == nil {
		return nil, errors.New("app credential is required")
	}
	cache, err := newTokenCache()
	if err != nil {
		return nil, err
	}
	return &TokenMinter{
		cred:    cred,
		baseURL: normalizeBaseURL(baseURL),
		client:  &http.Client{Timeout: 10 * time.Second},
		cache:   cache,
		now:     time.Now,
	}, nil
}

// Token returns a valid installation token, minting a fresh one when the
// cache has none. Entries are immutable until expiry; concurrent mints for
// the same installation are harmless, last write wins.
func (m *TokenMinter) Token(ctx context.Context, installationID int64) (InstallationToken, error) {
	if installationID == 0 {
		return InstallationToken{}, errors.New("installation id is required")
	}
	if token, ok := m.cache.get(installationID, m.now()); ok {
		internal.IncTokenCacheHit()
		return token, nil
	}
	token, err := m.mint(ctx, installationID)
	if err != nil {
		return InstallationToken{}, err
	}
	internal.IncTokenMinted()
	m.cache.put(token)
	return token, nil
}

func (m *TokenMinter) mint(ctx context.Context, installationID int64) (InstallationToken, error) {
	assertion, err := m.assertion()
	if err != nil {
		return InstallationToken{}, err
	}

	endpoint := fmt.Sprintf("%s/app/installations/%d/access_tokens", m.baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(nil))
	if err != nil {
		return InstallationToken{}, err
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := m.client.Do(req)
	if err != nil {
		return InstallationToken{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return InstallationToken{}, &TokenExchangeError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return InstallationToken{}, err
	}
	if out.Token == "" {
		return InstallationToken{}, errors.New("installation token missing from response")
	}

	return InstallationToken{
		Value:          out.Token,
		ExpiresAt:      out.ExpiresAt,
		InstallationID: installationID,
	}, nil
}

// assertion builds the RS256-signed app JWT: iat = now, exp = now + 600s,
// iss = app id.
func (m *TokenMinter) assertion() (string, error) {
	now := m.now().UTC()
	claims := map[string]interface{}{
		"iat": now.Unix(),
		"exp": now.Add(assertionTTL).Unix(),
		"iss": m.cred.AppID,
	}
	header := map[string]interface{}{
		"alg": "RS256",
		"typ": "JWT",
	}
	encodedHeader, err := encodeSegment(header)
	if err != nil {
		return "", err
	}
	encodedClaims, err := encodeSegment(claims)
	if err != nil {
		return "", err
	}
	unsigned := encodedHeader + "." + encodedClaims
	hash := sha256.Sum256([]byte(unsigned))
	signature, err := rsa.SignPKCS1v15(nil, m.cred.key, crypto.SHA256, hash[:])
	if err != nil {
		return "", err
	}
	return unsigned + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

// InstallationIDFromPayload extracts the GitHub App installation ID from a
// webhook payload. The second return is false when the payload has none.
func InstallationIDFromPayload(payload []byte) (int64, bool, error) {
	var raw struct {
		Installation struct {
			ID int64 `json:"id"`
		} `json:"installation"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return 0, false, err
	}
	if raw.Installation.ID == 0 {
		return 0, false, nil
	}
	return raw.Installation.ID, true, nil
}

func encodeSegment(data map[string]interface{}) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func normalizeBaseURL(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(base, "/")
}
