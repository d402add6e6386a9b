package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/agentd/internal/logging"
	"github.com/abdul-hamid-achik/agentd/internal/secrets"
)

const (
	// DefaultTokenEndpoint is the OAuth token endpoint for subscription tokens.
	DefaultTokenEndpoint = "https://console.anthropic.com/api/oauth/token"
	// DefaultOAuthClientID is the public client id used for refresh grants.
	DefaultOAuthClientID = "5568bae5-e98c-4624-a872-feeb2e498ea1-s7d2mhfpnagd2biq2kh74h"

	refreshTimeout = 30 * time.Second
)

// OAuthRefresher exchanges the stored refresh token for a new access token
// and writes the rotated pair back to the secrets provider.
type OAuthRefresher struct {
	secrets    secrets.Provider
	httpClient *http.Client
	endpoint   string
	clientID   string
	log        *logging.Logger

	// one refresh at a time; concurrent callers queue behind it
	mu sync.Mutex
}

var _ TokenRefresher = (*OAuthRefresher)(nil)

// NewOAuthRefresher creates a refresher against the default endpoint.
func NewOAuthRefresher(store secrets.Provider, log *logging.Logger) *OAuthRefresher {
	return &OAuthRefresher{
		secrets:    store,
		httpClient: &http.Client{Timeout: refreshTimeout},
		endpoint:   DefaultTokenEndpoint,
		clientID:   DefaultOAuthClientID,
		log:        log.WithPrefix("oauth"),
	}
}

// WithEndpoint points the refresher at another token endpoint.
func (r *OAuthRefresher) WithEndpoint(endpoint string) *OAuthRefresher {
	r.endpoint = endpoint
	return r
}

type refreshRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Refresh performs the refresh grant and returns the new access token.
func (r *OAuthRefresher) Refresh(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	refreshToken, err := secrets.Lookup(ctx, r.secrets, secrets.KeyAnthropicRefreshToken)
	if err != nil {
		return "", err
	}
	if refreshToken == "" {
		return "", fmt.Errorf("no refresh token stored under %q", secrets.KeyAnthropicRefreshToken)
	}

	body, err := json.Marshal(refreshRequest{
		GrantType:    "refresh_token",
		ClientID:     r.clientID,
		RefreshToken: refreshToken,
	})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token refresh failed: HTTP %d", resp.StatusCode)
	}

	var tokens refreshResponse
	if err := json.Unmarshal(payload, &tokens); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tokens.AccessToken == "" {
		return "", fmt.Errorf("token response has no access_token")
	}

	if err := r.secrets.Put(ctx, secrets.KeyAnthropicAccessToken, tokens.AccessToken); err != nil {
		return "", fmt.Errorf("store access token: %w", err)
	}
	if tokens.RefreshToken != "" && tokens.RefreshToken != refreshToken {
		if err := r.secrets.Put(ctx, secrets.KeyAnthropicRefreshToken, tokens.RefreshToken); err != nil {
			return "", fmt.Errorf("store refresh token: %w", err)
		}
	}

	r.log.Info("provider access token refreshed", logging.F("expires_in", tokens.ExpiresIn))
	return tokens.AccessToken, nil
}
