package kbclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// AccessTokenProvider returns the bearer token for an API call.
type AccessTokenProvider func(ctx context.Context) (string, error)

// StaticToken returns a provider that always yields token.
func StaticToken(token string) AccessTokenProvider {
	token = strings.TrimSpace(token)
	return func(context.Context) (string, error) {
		return token, nil
	}
}

type PasswordCredentials struct {
	TokenURL   string
	ClientID   string
	Username   string
	Password   string
	Scope      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// PasswordTokenSource performs a resource-owner password grant on first use
// and hands out the same token for the rest of its lifetime. An expired
// token is not refreshed; the API call that fails with it is a hard failure.
type PasswordTokenSource struct {
	cfg        oauth2.Config
	username   string
	password   string
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

func NewPasswordTokenSource(creds PasswordCredentials) *PasswordTokenSource {
	httpClient := creds.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	logger := creds.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PasswordTokenSource{
		cfg: oauth2.Config{
			ClientID: strings.TrimSpace(creds.ClientID),
			Endpoint: oauth2.Endpoint{
				TokenURL:  strings.TrimSpace(creds.TokenURL),
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: strings.Fields(creds.Scope),
		},
		username:   creds.Username,
		password:   creds.Password,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (s *PasswordTokenSource) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != nil {
		return s.token.AccessToken, nil
	}
	if s.cfg.Endpoint.TokenURL == "" {
		return "", &AuthError{Err: fmt.Errorf("token endpoint is not configured")}
	}
	s.logger.Info("connecting to knowledge base", zap.String("tokenUrl", s.cfg.Endpoint.TokenURL))
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := s.cfg.PasswordCredentialsToken(ctx, s.username, s.password)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return "", &AuthError{Err: fmt.Errorf("token endpoint returned an empty access token")}
	}
	s.token = token
	s.logger.Info("connected to knowledge base")
	return token.AccessToken, nil
}
