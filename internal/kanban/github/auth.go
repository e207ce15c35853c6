// Package github is the GitHub Issues/Projects kanban adapter. Its App
// authentication (JWT minting + installation token exchange) is wrapped in
// an oauth2.TokenSource so the REST client can be built with the standard
// golang.org/x/oauth2 HTTP transport instead of a bespoke header-setting
// client.
package github

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// AppCredentials holds parsed GitHub App credentials.
type AppCredentials struct {
	AppID          string
	InstallationID string
	PrivateKey     *rsa.PrivateKey
}

// ParsePrivateKey supports PKCS1 and PKCS8 PEM-encoded RSA private keys.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("github: no PEM block found in private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("github: parse private key as PKCS1 or PKCS8: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("github: PKCS8 key is not RSA")
	}
	return key, nil
}

// appTokenSource implements oauth2.TokenSource, minting a fresh installation
// token whenever the previous one has expired.
type appTokenSource struct {
	creds      AppCredentials
	httpClient *http.Client
	baseURL    string
}

// NewAppTokenSource returns an oauth2.TokenSource backed by GitHub App
// installation-token exchange, wrapped in oauth2.ReuseTokenSource by the
// caller so tokens are cached until they expire.
func NewAppTokenSource(creds AppCredentials) oauth2.TokenSource {
	return &appTokenSource{creds: creds, httpClient: http.DefaultClient, baseURL: "https://api.github.com"}
}

func (s *appTokenSource) Token() (*oauth2.Token, error) {
	jwt, err := generateJWT(s.creds)
	if err != nil {
		return nil, fmt.Errorf("github: generating JWT: %w", err)
	}

	url := fmt.Sprintf("%s/app/installations/%s/access_tokens", s.baseURL, s.creds.InstallationID)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("github: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+jwt)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github: requesting installation token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("github: API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("github: decoding response: %w", err)
	}

	return &oauth2.Token{AccessToken: result.Token, Expiry: result.ExpiresAt, TokenType: "Bearer"}, nil
}

func generateJWT(creds AppCredentials) (string, error) {
	now := time.Now()
	header := base64URLEncode([]byte(`{"alg":"RS256","typ":"JWT"}`))
	payload := fmt.Sprintf(`{"iss":%q,"iat":%d,"exp":%d}`,
		creds.AppID, now.Add(-60*time.Second).Unix(), now.Add(10*time.Minute).Unix())
	encodedPayload := base64URLEncode([]byte(payload))

	signingInput := header + "." + encodedPayload
	hash := sha256.Sum256([]byte(signingInput))

	sig, err := rsa.SignPKCS1v15(rand.Reader, creds.PrivateKey, crypto.SHA256, hash[:])
	if err != nil {
		return "", fmt.Errorf("signing JWT: %w", err)
	}
	return signingInput + "." + base64URLEncode(sig), nil
}

func base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}
