package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// ErrNoCredentials is returned when neither a refresh token nor a password is configured.
var ErrNoCredentials = errors.New("clients: no backend credentials configured")

// Credentials identify the gate service to the backend.
type Credentials struct {
	Username     string `yaml:"username" env:"GATE_BACKEND_USERNAME"`
	Password     string `yaml:"password" env:"GATE_BACKEND_PASSWORD"`
	RefreshToken string `yaml:"refreshToken" env:"GATE_BACKEND_REFRESH_TOKEN"`
}

// AuthClient obtains access tokens from the backend's token endpoints.
type AuthClient struct {
	base   *BaseClient
	creds  Credentials
	logger *zap.Logger

	mu      sync.Mutex
	refresh string
}

// NewAuthClient returns client.
func NewAuthClient(baseURL string, httpClient HTTPDoer, creds Credentials, logger *zap.Logger) *AuthClient {
	return &AuthClient{
		base:    NewBaseClient(baseURL, httpClient),
		creds:   creds,
		logger:  logger,
		refresh: creds.RefreshToken,
	}
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// FetchToken returns a new access token, refreshing when possible and logging in
// with the password otherwise.
func (c *AuthClient) FetchToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	refresh := c.refresh
	c.mu.Unlock()

	if refresh != "" {
		pair, err := c.call(ctx, "token/refresh/", map[string]string{"refresh": refresh})
		if err == nil {
			c.remember(pair)
			return pair.Access, nil
		}
		c.logger.Info("token refresh failed, falling back to login", zap.Error(err))
	}

	if c.creds.Username == "" {
		return "", ErrNoCredentials
	}
	pair, err := c.call(ctx, "token/", map[string]string{
		"username": c.creds.Username,
		"password": c.creds.Password,
	})
	if err != nil {
		return "", err
	}
	c.remember(pair)
	return pair.Access, nil
}

func (c *AuthClient) remember(pair tokenPair) {
	if pair.Refresh == "" {
		return
	}
	c.mu.Lock()
	c.refresh = pair.Refresh
	c.mu.Unlock()
}

func (c *AuthClient) call(ctx context.Context, path string, body interface{}) (tokenPair, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return tokenPair{}, err
	}
	resp, err := c.base.Do(ctx, http.MethodPost, path, data, nil)
	if err != nil {
		return tokenPair{}, err
	}
	if err := resp.Err(); err != nil {
		return tokenPair{}, err
	}
	var pair tokenPair
	if err := resp.Decode(&pair); err != nil {
		return tokenPair{}, err
	}
	if pair.Access == "" {
		return tokenPair{}, fmt.Errorf("%w: token response has no access token", ErrBadResponse)
	}
	return pair, nil
}
